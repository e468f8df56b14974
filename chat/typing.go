package chat

// RelayTyping forwards a typing indicator to to if connected and drops it
// otherwise.
func (s *Service) RelayTyping(from, to string, isTyping bool) {
	if to == "" || to == from {
		return
	}
	s.send(to, OutboundTyping{Type: FrameTyping, From: from, IsTyping: isTyping})
}
