// Package queryconn manages the transport for a TeamSpeak 3 query session.
//
// A Conn dials the server, checks the greeting banner and then exchanges
// "\n\r" terminated lines. It knows nothing about commands or replies; the
// query package layers request correlation on top.
//
//	c := queryconn.New("ts.example.com:10011")
//	if err := c.Open(ctx); err != nil {
//		return err
//	}
//	defer c.Close()
//
//	c.Send("version")
//	line, err := c.Recv(ctx)
//
// The connection is either connected or disconnected. A failed read or write
// resets it to disconnected and reports the cause to every OnDisconnect hook.
// There is no automatic reconnect.
package queryconn
