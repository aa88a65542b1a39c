// Package election implements the Raft-like master election and failover
// state machine from §4.5: terms, votes, majority-wins, and split-brain
// resolution by highest term. No pack example implements leader election;
// this is built in the concurrency idiom of torua's
// coordinator.HealthMonitor — a Start/Stop pair driven by a time.Ticker
// over a mutex-guarded state struct with a settable callback — generalized
// to a new state machine rather than copied from an existing one.
package election

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dreamware/transcast/internal/cluster"
)

// Role is this node's position in the election state machine.
type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleMaster    Role = "master"
)

// Node runs one node's election participation. It does not itself dial
// peers for anything but the election RPCs (RequestVote, AnnounceMaster);
// transport is the shared cluster.PostJSON helper.
type Node struct {
	SelfID   string
	SelfAddr string

	masterSilence time.Duration
	retryMin      time.Duration
	retryMax      time.Duration

	peerProvider func() []cluster.NodeInfo
	onElected    func(term int)
	onDemoted    func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                sync.Mutex
	term              int
	role              Role
	votedForTerm      int
	votedForCandidate string
	knownMaster       string
	deadline          time.Time
}

// New creates a follower-role election participant. masterSilence is the
// duration of peer silence that triggers a candidacy (§4.3's
// master_silence); retryMin/retryMax are the [150,300]ms jitter window
// applied, scaled to a 1-second floor, when a candidacy ties or loses
// (§4.5).
func New(selfID, selfAddr string, masterSilence, retryMin, retryMax time.Duration, peerProvider func() []cluster.NodeInfo) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		SelfID:        selfID,
		SelfAddr:      selfAddr,
		masterSilence: masterSilence,
		retryMin:      retryMin,
		retryMax:      retryMax,
		peerProvider:  peerProvider,
		ctx:           ctx,
		cancel:        cancel,
		role:          RoleFollower,
	}
	n.resetDeadline(masterSilence)
	return n
}

// SetOnElected registers a callback invoked once this node wins an
// election, with the winning term. Used by the master engine to begin (or
// resume, after a restore) serving as master.
func (n *Node) SetOnElected(cb func(term int)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onElected = cb
}

// SetOnDemoted registers a callback invoked when a node that believed
// itself master learns of a higher term and steps down.
func (n *Node) SetOnDemoted(cb func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDemoted = cb
}

// Start begins the election timer loop in the current goroutine, checking
// once per tick whether the deadline has elapsed without a heartbeat or
// announcement resetting it. Blocks until ctx is canceled or Stop is
// called.
func (n *Node) Start(ctx context.Context) {
	n.wg.Add(1)
	defer n.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.checkDeadline()
		case <-ctx.Done():
			return
		case <-n.ctx.Done():
			return
		}
	}
}

// Stop cancels the election loop and waits for it to return.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
}

func (n *Node) checkDeadline() {
	n.mu.Lock()
	expired := n.role != RoleMaster && time.Now().After(n.deadline)
	n.mu.Unlock()

	if expired {
		n.campaign()
	}
}

func (n *Node) resetDeadline(base time.Duration) {
	n.deadline = time.Now().Add(base)
}

// Role returns the node's current role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Term returns the node's current term.
func (n *Node) Term() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.term
}

// CurrentMaster returns the address this node currently believes is
// master (empty during an election) and its current term.
func (n *Node) CurrentMaster() (string, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.knownMaster, n.term
}

// campaign runs one candidacy: increment term, vote for self, request
// votes from every known peer, and become master on a majority. Ties and
// losses fall back to follower and wait out a randomized backoff before
// the timer loop lets another candidacy begin.
func (n *Node) campaign() {
	n.mu.Lock()
	n.term++
	myTerm := n.term
	n.role = RoleCandidate
	n.votedForTerm = myTerm
	n.votedForCandidate = n.SelfID
	n.resetDeadline(n.masterSilence)
	n.mu.Unlock()

	peers := n.peerProvider()
	log.Printf("election: node %s campaigning for term %d against %d peers", n.SelfID, myTerm, len(peers))

	votes := 1 // self
	var mu sync.Mutex
	var wg sync.WaitGroup
	higherTermSeen := 0

	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			var resp cluster.VoteResponse
			req := cluster.VoteRequest{Term: myTerm, CandidateID: n.SelfID, CandidateAddr: n.SelfAddr}
			if err := cluster.PostJSON(ctx, fmt.Sprintf("http://%s/election/vote", p.Addr), req, &resp); err != nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if resp.Granted && resp.Term == myTerm {
				votes++
			} else if resp.Term > myTerm {
				higherTermSeen = resp.Term
			}
		}()
	}
	wg.Wait()

	total := len(peers) + 1
	majority := total/2 + 1

	n.mu.Lock()
	defer n.mu.Unlock()

	if higherTermSeen > n.term {
		n.term = higherTermSeen
		n.role = RoleFollower
		n.resetDeadline(n.masterSilence)
		return
	}

	if n.role != RoleCandidate || n.term != myTerm {
		return // overtaken while campaigning
	}

	if votes >= majority {
		n.role = RoleMaster
		n.knownMaster = n.SelfAddr
		cb := n.onElected
		n.mu.Unlock()
		n.announce(myTerm, peers)
		if cb != nil {
			cb(myTerm)
		}
		n.mu.Lock()
		return
	}

	// Lost or tied: fall back to follower and retry after a randomized
	// backoff, per §4.5.
	n.role = RoleFollower
	n.resetDeadline(n.retryBackoff())
}

// retryBackoff computes the randomized [150,300]ms window scaled to a
// 1-second floor, using backoff's randomized-interval computation rather
// than a hand-rolled rand.Float64 jitter so the distribution matches the
// same exponential-backoff library used for the worker's registration
// retries.
func (n *Node) retryBackoff() time.Duration {
	floor := time.Second
	// backoff draws from InitialInterval ± RandomizationFactor·InitialInterval,
	// so centering on the window's midpoint spans exactly [retryMin, retryMax].
	mid := (n.retryMin + n.retryMax) / 2
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = mid
	b.MaxInterval = n.retryMax
	b.RandomizationFactor = 0
	if mid > 0 {
		b.RandomizationFactor = float64(n.retryMax-mid) / float64(mid)
	}
	b.Multiplier = 1
	jitter := b.NextBackOff()
	if jitter <= 0 {
		jitter = n.retryMin
	}
	return floor + jitter
}

// announce sends AnnounceMaster to every peer after winning an election.
func (n *Node) announce(term int, peers []cluster.NodeInfo) {
	req := cluster.AnnounceMasterRequest{Term: term, MasterID: n.SelfID, MasterAddr: n.SelfAddr}
	for _, p := range peers {
		p := p
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			var resp cluster.AnnounceMasterResponse
			_ = cluster.PostJSON(ctx, fmt.Sprintf("http://%s/election/announce", p.Addr), req, &resp)
		}()
	}
}

// HandleVoteRequest implements the master's/peer's side of RequestVote: a
// node grants a vote in term T iff it has not already voted in term T (or
// already voted for this same candidate in T) and the candidate's term is
// at least its own known term.
func (n *Node) HandleVoteRequest(req cluster.VoteRequest) cluster.VoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term > n.term {
		n.term = req.Term
		n.role = RoleFollower
		n.votedForTerm = 0
		n.votedForCandidate = ""
	}

	if req.Term < n.term {
		return cluster.VoteResponse{Term: n.term, Granted: false}
	}

	if n.votedForTerm == req.Term && n.votedForCandidate != req.CandidateID {
		return cluster.VoteResponse{Term: n.term, Granted: false}
	}

	n.votedForTerm = req.Term
	n.votedForCandidate = req.CandidateID
	n.resetDeadline(n.masterSilence)
	return cluster.VoteResponse{Term: n.term, Granted: true}
}

// HandleAnnounceMaster implements AnnounceMaster: recipients adopt the
// term and known-master unconditionally whenever it is not behind their
// own, reverting to follower and canceling any election in progress.
func (n *Node) HandleAnnounceMaster(req cluster.AnnounceMasterRequest) cluster.AnnounceMasterResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.term {
		return cluster.AnnounceMasterResponse{Term: n.term, Accepted: false}
	}

	wasMaster := n.role == RoleMaster
	n.term = req.Term
	n.role = RoleFollower
	n.knownMaster = req.MasterAddr
	n.resetDeadline(n.masterSilence)

	if wasMaster {
		cb := n.onDemoted
		n.mu.Unlock()
		if cb != nil {
			cb()
		}
		n.mu.Lock()
	}

	return cluster.AnnounceMasterResponse{Term: n.term, Accepted: true}
}
