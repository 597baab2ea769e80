package dispatch

import (
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"

	"github.com/dcrodman/realm/internal/core/packets"
)

type packetKey struct {
	connType packets.RemoteConnectionType
	packetID uint32
}

// Registry holds every packet and command handler. It is built once by
// NewRegistry and only read afterwards, so it's safe for concurrent use.
type Registry struct {
	packets  map[packetKey]PacketHandler
	commands map[rune]map[string]CommandHandler
	// Per prefix, sorted by signature.
	listings map[rune][]CommandHandler
}

func foldSignature(signature string) string {
	return cases.Fold().String(signature)
}

// NewRegistry collects the handlers of each group in order. A handler whose key
// is already taken replaces the earlier one.
func NewRegistry(logger logrus.FieldLogger, groups ...HandlerGroup) *Registry {
	r := &Registry{
		packets:  make(map[packetKey]PacketHandler),
		commands: make(map[rune]map[string]CommandHandler),
		listings: make(map[rune][]CommandHandler),
	}

	for _, group := range groups {
		for _, h := range group.PacketHandlers() {
			r.addPacketHandler(logger, h)
		}
		for _, h := range group.CommandHandlers() {
			r.addCommandHandler(logger, h)
		}
	}

	for prefix, group := range r.commands {
		listing := make([]CommandHandler, 0, len(group))
		for _, h := range group {
			listing = append(listing, h)
		}
		sort.Slice(listing, func(i, j int) bool {
			return listing[i].Signature < listing[j].Signature
		})
		r.listings[prefix] = listing
	}
	return r
}

func (r *Registry) addPacketHandler(logger logrus.FieldLogger, h PacketHandler) {
	if h.New == nil || h.Handle == nil {
		logger.Warnf("skipping incomplete packet handler")
		return
	}

	k := h.key()
	if _, ok := r.packets[k]; ok {
		logger.Warnf("handler for packet %v:0x%x overwritten", k.connType, k.packetID)
	} else {
		logger.Debugf("registered handler for packet %v:0x%x", k.connType, k.packetID)
	}
	r.packets[k] = h
}

func (r *Registry) addCommandHandler(logger logrus.FieldLogger, h CommandHandler) {
	if h.Console == nil && h.Args == nil && h.ArgsCaller == nil {
		logger.Warnf("skipping command %c%s without a callback", h.Prefix, h.Signature)
		return
	}

	group, ok := r.commands[h.Prefix]
	if !ok {
		group = make(map[string]CommandHandler)
		r.commands[h.Prefix] = group
	}

	signature := foldSignature(h.Signature)
	if _, ok := group[signature]; ok {
		logger.Warnf("handler for command %c%s overwritten", h.Prefix, h.Signature)
	} else {
		logger.Debugf("registered command %c%s", h.Prefix, h.Signature)
	}
	group[signature] = h
}

// PacketHandler returns the handler registered for a packet, if any.
func (r *Registry) PacketHandler(connType packets.RemoteConnectionType, packetID uint32) (PacketHandler, bool) {
	h, ok := r.packets[packetKey{connType: connType, packetID: packetID}]
	return h, ok
}

// HasPrefix reports whether any command is registered under prefix.
func (r *Registry) HasPrefix(prefix rune) bool {
	_, ok := r.commands[prefix]
	return ok
}

// Command looks up a command. The signature is matched case-insensitively.
func (r *Registry) Command(prefix rune, signature string) (CommandHandler, bool) {
	h, ok := r.commands[prefix][foldSignature(signature)]
	return h, ok
}

// Commands returns the commands registered under prefix sorted by signature.
func (r *Registry) Commands(prefix rune) []CommandHandler {
	return r.listings[prefix]
}
