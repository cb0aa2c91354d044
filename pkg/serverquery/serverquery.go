// Package serverquery offers typed helpers for common ServerQuery commands
// on top of a query.Client. Commands not covered here can be sent with Raw.
package serverquery

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/querystr"
)

// NotifyEvent is a servernotifyregister event class.
type NotifyEvent string

const (
	NotifyServer      NotifyEvent = "server"
	NotifyChannel     NotifyEvent = "channel"
	NotifyTextServer  NotifyEvent = "textserver"
	NotifyTextChannel NotifyEvent = "textchannel"
	NotifyTextPrivate NotifyEvent = "textprivate"
	NotifyTokenUsed   NotifyEvent = "tokenused"
)

// TargetMode selects the recipient of a text message.
type TargetMode int

const (
	TargetClient  TargetMode = 1
	TargetChannel TargetMode = 2
	TargetServer  TargetMode = 3
)

// MissingParameterError reports a command called without a required argument.
type MissingParameterError struct {
	Command   string
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("serverquery: %s requires %s", e.Command, e.Parameter)
}

// Server sends ServerQuery commands.
type Server struct {
	client *query.Client
}

// New wraps client.
func New(client *query.Client) *Server {
	return &Server{client: client}
}

// Client returns the underlying client.
func (s *Server) Client() *query.Client {
	return s.client
}

// Raw sends req and turns a non-zero status into an error.
func (s *Server) Raw(ctx context.Context, req *querystr.Request) (*query.Response, error) {
	resp, err := s.client.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

func (s *Server) exec(ctx context.Context, req *querystr.Request) error {
	_, err := s.Raw(ctx, req)
	return err
}

func (s *Server) single(ctx context.Context, req *querystr.Request) (querystr.Map, error) {
	resp, err := s.Raw(ctx, req)
	if err != nil {
		return querystr.Map{}, err
	}
	m, _ := resp.Single()
	return m, nil
}

// Login authenticates with ServerQuery credentials.
func (s *Server) Login(ctx context.Context, name, password string) error {
	return s.exec(ctx, querystr.NewRequest("login").
		Param("client_login_name", name).
		Param("client_login_password", password))
}

// Logout deselects the virtual server and logs out.
func (s *Server) Logout(ctx context.Context) error {
	return s.exec(ctx, querystr.NewRequest("logout"))
}

// Quit closes the session from the server side.
func (s *Server) Quit(ctx context.Context) error {
	return s.exec(ctx, querystr.NewRequest("quit"))
}

// Help returns the help text, for one command when command is not empty.
func (s *Server) Help(ctx context.Context, command string) (string, error) {
	req := querystr.NewRequest("help")
	if command != "" {
		req.Param("", command)
	}
	resp, err := s.Raw(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Version is the reply of the version command.
type Version struct {
	Version  string
	Build    string
	Platform string
}

// Version returns the server version.
func (s *Server) Version(ctx context.Context) (Version, error) {
	m, err := s.single(ctx, querystr.NewRequest("version"))
	if err != nil {
		return Version{}, err
	}
	return Version{
		Version:  m.Value("version"),
		Build:    m.Value("build"),
		Platform: m.Value("platform"),
	}, nil
}

// HostInfo returns instance wide connection statistics.
func (s *Server) HostInfo(ctx context.Context) (querystr.Map, error) {
	return s.single(ctx, querystr.NewRequest("hostinfo"))
}

// WhoAmI describes the current query session.
type WhoAmI struct {
	ServerID     int
	ServerPort   int
	ChannelID    int
	ClientID     int
	DatabaseID   int
	Nickname     string
	LoginName    string
	UniqueID     string
	ServerStatus string
}

// WhoAmI returns information about the current session.
func (s *Server) WhoAmI(ctx context.Context) (WhoAmI, error) {
	m, err := s.single(ctx, querystr.NewRequest("whoami"))
	if err != nil {
		return WhoAmI{}, err
	}
	return WhoAmI{
		ServerID:     atoi(m.Value("virtualserver_id")),
		ServerPort:   atoi(m.Value("virtualserver_port")),
		ServerStatus: m.Value("virtualserver_status"),
		ChannelID:    atoi(m.Value("client_channel_id")),
		ClientID:     atoi(m.Value("client_id")),
		DatabaseID:   atoi(m.Value("client_database_id")),
		Nickname:     m.Value("client_nickname"),
		LoginName:    m.Value("client_login_name"),
		UniqueID:     m.Value("client_unique_identifier"),
	}, nil
}

// UseOptions selects a virtual server by id or by port.
type UseOptions struct {
	ID      int
	Port    int
	Virtual bool
}

// Use selects a virtual server.
func (s *Server) Use(ctx context.Context, opts UseOptions) error {
	if opts.ID == 0 && opts.Port == 0 {
		return &MissingParameterError{Command: "use", Parameter: "sid or port"}
	}
	req := querystr.NewRequest("use").OptionIf("virtual", opts.Virtual)
	if opts.ID != 0 {
		req.Param("sid", opts.ID)
	}
	if opts.Port != 0 {
		req.Param("port", opts.Port)
	}
	return s.exec(ctx, req)
}

// ServerList lists the virtual servers.
func (s *Server) ServerList(ctx context.Context) ([]querystr.Map, error) {
	resp, err := s.Raw(ctx, querystr.NewRequest("serverlist"))
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ServerInfo returns the selected virtual server's properties.
func (s *Server) ServerInfo(ctx context.Context) (querystr.Map, error) {
	return s.single(ctx, querystr.NewRequest("serverinfo"))
}

// ServerNotifyRegister subscribes to an event class. The channel and
// textchannel classes need a channel id; zero is rejected. The standing
// receiver of the client is started before the command is sent.
func (s *Server) ServerNotifyRegister(ctx context.Context, event NotifyEvent, channelID int) error {
	req := querystr.NewRequest("servernotifyregister").Param("event", event)
	if event == NotifyChannel || event == NotifyTextChannel {
		if channelID == 0 {
			return &MissingParameterError{Command: "servernotifyregister", Parameter: "id"}
		}
		req.Param("id", channelID)
	}
	return s.exec(ctx, req)
}

// ServerNotifyUnregister drops every notification subscription.
func (s *Server) ServerNotifyUnregister(ctx context.Context) error {
	return s.exec(ctx, querystr.NewRequest("servernotifyunregister"))
}

// SendTextMessage sends msg to a client, a channel or the whole server.
func (s *Server) SendTextMessage(ctx context.Context, mode TargetMode, target int, msg string) error {
	return s.exec(ctx, querystr.NewRequest("sendtextmessage").
		Param("targetmode", int(mode)).
		Param("target", target).
		Param("msg", msg))
}

// GM sends msg to every virtual server of the instance.
func (s *Server) GM(ctx context.Context, msg string) error {
	return s.exec(ctx, querystr.NewRequest("gm").Param("msg", msg))
}

// ChannelListOptions selects the extra fields of ChannelList.
type ChannelListOptions struct {
	Topic, Flags, Voice, Limits, Icon, SecondsEmpty bool
}

// ChannelList lists the channels of the selected virtual server.
func (s *Server) ChannelList(ctx context.Context, opts ChannelListOptions) ([]querystr.Map, error) {
	req := querystr.NewRequest("channellist").
		OptionIf("topic", opts.Topic).
		OptionIf("flags", opts.Flags).
		OptionIf("voice", opts.Voice).
		OptionIf("limits", opts.Limits).
		OptionIf("icon", opts.Icon).
		OptionIf("secondsempty", opts.SecondsEmpty)
	resp, err := s.Raw(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ChannelInfo returns the properties of one channel.
func (s *Server) ChannelInfo(ctx context.Context, channelID int) (querystr.Map, error) {
	return s.single(ctx, querystr.NewRequest("channelinfo").Param("cid", channelID))
}

// ClientListOptions selects the extra fields of ClientList.
type ClientListOptions struct {
	UID, Away, Voice, Times, Groups, Info, Icon, Country bool
}

// ClientList lists the clients online on the selected virtual server.
func (s *Server) ClientList(ctx context.Context, opts ClientListOptions) ([]querystr.Map, error) {
	req := querystr.NewRequest("clientlist").
		OptionIf("uid", opts.UID).
		OptionIf("away", opts.Away).
		OptionIf("voice", opts.Voice).
		OptionIf("times", opts.Times).
		OptionIf("groups", opts.Groups).
		OptionIf("info", opts.Info).
		OptionIf("icon", opts.Icon).
		OptionIf("country", opts.Country)
	resp, err := s.Raw(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ClientInfo returns the properties of one client.
func (s *Server) ClientInfo(ctx context.Context, clientID int) (querystr.Map, error) {
	return s.single(ctx, querystr.NewRequest("clientinfo").Param("clid", clientID))
}

// ClientPoke pokes a client with msg.
func (s *Server) ClientPoke(ctx context.Context, clientID int, msg string) error {
	return s.exec(ctx, querystr.NewRequest("clientpoke").Param("clid", clientID).Param("msg", msg))
}

// ClientMove moves clients to a channel.
func (s *Server) ClientMove(ctx context.Context, channelID int, clientIDs ...int) error {
	if len(clientIDs) == 0 {
		return &MissingParameterError{Command: "clientmove", Parameter: "clid"}
	}
	req := querystr.NewRequest("clientmove").Param("cid", channelID)
	for _, id := range clientIDs {
		req.Group(querystr.Param{Key: "clid", Value: id})
	}
	return s.exec(ctx, req)
}

// ClientUpdate changes properties of the query client itself, such as
// client_nickname.
func (s *Server) ClientUpdate(ctx context.Context, props map[string]any) error {
	if len(props) == 0 {
		return &MissingParameterError{Command: "clientupdate", Parameter: "properties"}
	}
	return s.exec(ctx, querystr.NewRequest("clientupdate").Params(props))
}

// LogLevel is the severity of a LogAdd entry.
type LogLevel int

const (
	LogError   LogLevel = 1
	LogWarning LogLevel = 2
	LogDebug   LogLevel = 3
	LogInfo    LogLevel = 4
)

// LogAdd writes a custom entry to the server log.
func (s *Server) LogAdd(ctx context.Context, level LogLevel, msg string) error {
	return s.exec(ctx, querystr.NewRequest("logadd").Param("loglevel", int(level)).Param("logmsg", msg))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
