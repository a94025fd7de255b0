package irc

import (
	stdimage "image"
	"sync"

	"stylebird/http/uploaders/birdhole"
	images "stylebird/image"
	"stylebird/logger"
	"stylebird/settings"

	"github.com/lrstanley/girc"
)

// Notifier delivers scheduler notifications back over IRC. Each client is
// addressed in the channel they issued their command from; finished images
// are uploaded to birdhole and delivered as a URL. girc buffers outgoing
// messages internally, so sending never blocks the caller.
type Notifier struct {
	client   *girc.Client
	birdhole settings.BirdholeConfig

	mu      sync.Mutex
	targets map[string]string
}

func NewNotifier(client *girc.Client, birdhole settings.BirdholeConfig) *Notifier {
	return &Notifier{
		client:   client,
		birdhole: birdhole,
		targets:  make(map[string]string),
	}
}

// SetTarget records where replies for a nick should go. Called on every
// command so replies follow the client between channels.
func (n *Notifier) SetTarget(nick, target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets[nick] = target
}

func (n *Notifier) target(nick string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if target, ok := n.targets[nick]; ok {
		return target
	}
	return nick
}

func (n *Notifier) Send(clientID, text string) error {
	n.client.Cmd.Message(n.target(clientID), girc.Fmt("{b}"+clientID+"{b}: ")+text)
	return nil
}

// SendImage uploads the image and delivers its URL with the caption.
func (n *Notifier) SendImage(clientID, caption string, img stdimage.Image) error {
	data, err := images.EncodeJpeg(img)
	if err != nil {
		return err
	}

	description := n.birdhole.Description
	if description == "" {
		description = "style transfer for " + clientID
	}
	url, err := birdhole.Upload("styled.jpg", data, description, n.birdhole)
	if err != nil {
		return err
	}

	logger.Info("Uploaded result image", "client", clientID, "url", url)
	return n.Send(clientID, caption+" "+url)
}
