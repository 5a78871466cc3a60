package domain

// ChatBus carries inbound chat events from a platform adapter to the bridge.
type ChatBus interface {
	Publish(msg ChatMessage)
	Subscribe() <-chan ChatMessage
	Close()
}
