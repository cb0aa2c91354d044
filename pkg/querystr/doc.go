// Package querystr implements the text codec of the TeamSpeak 3 query protocol.
//
// Every value on the wire is escaped so that a parameter never contains a
// space, a pipe or a line break. A command line has the shape:
//
//	<command> [key=value ...] [key=value ...|key=value ...] [-option ...]
//
// Replies and notifications come back as whitespace separated key=value
// tokens. Several records in one line are separated by "|".
//
// # Escaping
//
//	querystr.Escape("hello world")  // "hello\sworld"
//	querystr.Unescape(`a\pb`)        // "a|b"
//
// # Parsing
//
//	m := querystr.ParseList("clid=1 client_nickname=serveradmin")
//	nick, _ := m.Get("client_nickname")
//
//	recs := querystr.ParseSet("clid=1|clid=2")
//
// # Building requests
//
//	req := querystr.NewRequest("clientlist").
//		Option("uid").
//		Option("away")
//	line, err := req.Render() // "clientlist -uid -away"
package querystr
