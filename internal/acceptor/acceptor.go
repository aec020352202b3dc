// Package acceptor accepts incoming connections on a listener and passes them to the torrent.
package acceptor

import (
	"net"

	"github.com/swarmget/swarmget/internal/logger"
)

// Acceptor accepts connections until closed.
type Acceptor struct {
	listener net.Listener
	newConns chan net.Conn
	log      logger.Logger
	closeC   chan struct{}
	doneC    chan struct{}
}

// New returns an Acceptor that sends accepted connections to newConns.
func New(lis net.Listener, newConns chan net.Conn, l logger.Logger) *Acceptor {
	return &Acceptor{
		listener: lis,
		newConns: newConns,
		log:      l,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Close the listener and wait for Run to return.
func (a *Acceptor) Close() {
	close(a.closeC)
	_ = a.listener.Close()
	<-a.doneC
}

// Run accepts connections. Invoke with go statement.
// A connection not received from newConns before Close is closed.
func (a *Acceptor) Run() {
	defer close(a.doneC)
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeC:
			default:
				a.log.Error(err)
			}
			return
		}
		select {
		case a.newConns <- conn:
		case <-a.closeC:
			_ = conn.Close()
			return
		}
	}
}
