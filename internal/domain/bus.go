package domain

// MessageBus routes messages between channels and the message handler.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(reply OutboundReply)
	OnOutbound(channelName string, handler func(OutboundReply))
	Close()
}
