package peerconn

// BlockDone is sent on the Messages channel when a request made with RequestBlock is
// resolved by the connection. Requests resolved by Cancel or Close are not reported.
type BlockDone struct {
	Request *Request
}

// BlockUploaded is sent on the Messages channel after a piece message is written.
type BlockUploaded struct {
	Length uint32
}
