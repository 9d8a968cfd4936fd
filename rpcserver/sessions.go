// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"bytes"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/pkgrelay/feefilter"
	"github.com/gorilla/websocket"
)

const (
	// sessionWriteTimeout bounds the time spent writing one message to a
	// peer session.
	sessionWriteTimeout = 30 * time.Second

	// sessionPingInterval is the interval between pings sent to keep idle
	// sessions alive.
	sessionPingInterval = time.Minute
)

// PeerSessions is the set of websocket peer sessions.  It implements
// feefilter.PeerNotifier by encoding every announcement as a feefilter wire
// message for the session it targets.
type PeerSessions struct {
	net    wire.BitcoinNet
	nextID atomic.Uint64

	mtx      sync.RWMutex
	sessions map[feefilter.PeerID]*peerSession
}

// Ensure PeerSessions implements the feefilter.PeerNotifier interface.
var _ feefilter.PeerNotifier = (*PeerSessions)(nil)

// NewPeerSessions returns an empty session set speaking on net.
func NewPeerSessions(net wire.BitcoinNet) *PeerSessions {
	return &PeerSessions{
		net:      net,
		sessions: make(map[feefilter.PeerID]*peerSession),
	}
}

// peerSession is a single websocket connection.  Announcements are handed to
// the writer through a single slot channel in which the latest value wins, so
// the fee filter manager never blocks on a slow peer.
type peerSession struct {
	id       feefilter.PeerID
	conn     *websocket.Conn
	pending  chan int64
	quit     chan struct{}
	quitOnce sync.Once
}

func (p *peerSession) disconnect() {
	p.quitOnce.Do(func() {
		close(p.quit)
		p.conn.Close()
	})
}

// add registers a connection and returns its session.
func (ps *PeerSessions) add(conn *websocket.Conn) *peerSession {
	p := &peerSession{
		id:      feefilter.PeerID(ps.nextID.Add(1)),
		conn:    conn,
		pending: make(chan int64, 1),
		quit:    make(chan struct{}),
	}
	ps.mtx.Lock()
	ps.sessions[p.id] = p
	ps.mtx.Unlock()
	return p
}

// remove forgets a session.
func (ps *PeerSessions) remove(id feefilter.PeerID) {
	ps.mtx.Lock()
	delete(ps.sessions, id)
	ps.mtx.Unlock()
}

// IDs returns the identifiers of the live sessions in ascending order.
func (ps *PeerSessions) IDs() []feefilter.PeerID {
	ps.mtx.RLock()
	ids := make([]feefilter.PeerID, 0, len(ps.sessions))
	for id := range ps.sessions {
		ids = append(ids, id)
	}
	ps.mtx.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of live sessions.
func (ps *PeerSessions) Count() int {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()
	return len(ps.sessions)
}

// SendFeeFilter queues a fee filter announcement for the session.  An
// announcement still waiting to be written is replaced.
//
// This is part of the feefilter.PeerNotifier interface.
func (ps *PeerSessions) SendFeeFilter(id feefilter.PeerID, minFeeRate int64) {
	ps.mtx.RLock()
	p, ok := ps.sessions[id]
	ps.mtx.RUnlock()
	if !ok {
		log.Tracef("Dropping fee filter for gone session %d", id)
		return
	}

	for {
		select {
		case p.pending <- minFeeRate:
			return
		default:
		}
		select {
		case stale := <-p.pending:
			log.Tracef("Replacing unsent fee filter %d for session "+
				"%d", stale, id)
		default:
		}
	}
}

// encodeFeeFilter returns the wire encoding of a feefilter message.
func (ps *PeerSessions) encodeFeeFilter(minFeeRate int64) ([]byte, error) {
	var buf bytes.Buffer
	msg := wire.NewMsgFeeFilter(minFeeRate)
	err := wire.WriteMessage(&buf, msg, wire.ProtocolVersion, ps.net)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// outHandler writes queued announcements to the session.  It must be run as
// a goroutine.
func (ps *PeerSessions) outHandler(p *peerSession) {
	ping := time.NewTicker(sessionPingInterval)
	defer ping.Stop()

	for {
		select {
		case minFeeRate := <-p.pending:
			msg, err := ps.encodeFeeFilter(minFeeRate)
			if err != nil {
				log.Errorf("Unable to encode fee filter: %v", err)
				continue
			}
			p.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
			err = p.conn.WriteMessage(websocket.BinaryMessage, msg)
			if err != nil {
				log.Debugf("Unable to write to session %d: %v",
					p.id, err)
				p.disconnect()
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(sessionWriteTimeout)
			err := p.conn.WriteControl(websocket.PingMessage, nil,
				deadline)
			if err != nil {
				p.disconnect()
				return
			}

		case <-p.quit:
			return
		}
	}
}

// inHandler reads until the session closes.  Peers have nothing to send, so
// everything read is discarded.
func (ps *PeerSessions) inHandler(p *peerSession) {
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {

				log.Debugf("Session %d read error: %v", p.id, err)
			}
			return
		}
	}
}

// upgrader upgrades peer session requests.  Sessions are authenticated, so
// the origin is not checked.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handlePeerSession upgrades the request to a websocket peer session, hands
// it to the fee filter manager and serves it until either side closes.
func (s *Server) handlePeerSession(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shutdown) != 0 {
		http.Error(w, "503 Service Unavailable.",
			http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied to the client.
		log.Errorf("Unable to upgrade %s to a peer session: %v",
			r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(1024)

	sessions := s.cfg.Sessions
	p := sessions.add(conn)
	log.Infof("New peer session %d (%s)", p.id, r.RemoteAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.quit:
			p.disconnect()
		case <-p.quit:
		}
	}()
	go sessions.outHandler(p)
	s.cfg.FeeFilter.NewPeer(p.id)

	sessions.inHandler(p)

	s.cfg.FeeFilter.DonePeer(p.id)
	sessions.remove(p.id)
	p.disconnect()
	log.Infof("Peer session %d (%s) done", p.id, r.RemoteAddr)
}
