package bridge

import (
	"context"

	"github.com/ambralabs/voicebridge/internal/voicelive"
)

// Upstream is the duplex connection a session owns. *voicelive.Conn is
// the production implementation; tests script a fake.
type Upstream interface {
	Recv(ctx context.Context) (voicelive.ServerEvent, error)
	UpdateSession(session *voicelive.RequestSession) error
	AppendInputAudio(audioBase64 string) error
	CreateUserMessage(text string) error
	CreateFunctionOutput(previousItemID, callID, output string) error
	CreateResponse() error
	CancelResponse() error
	AvatarConnect(clientSDP string) error
	Close() error
}

// Dialer opens the upstream connection for a session.
type Dialer func(ctx context.Context, cfg voicelive.Config) (Upstream, error)

// DialVoiceLive adapts voicelive.Dial to the Dialer shape.
func DialVoiceLive(ctx context.Context, cfg voicelive.Config) (Upstream, error) {
	return voicelive.Dial(ctx, cfg)
}

// Sender delivers one outbound message to the client transport. Delivery
// is best effort: implementations log and drop on failure, they never
// block the session or report errors back.
type Sender func(msg any)
