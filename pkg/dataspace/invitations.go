package dataspace

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const defaultPollInterval = 30 * time.Second

// MemberSpaceLister finds the spaces a principal belongs to.
type MemberSpaceLister interface {
	ListSpacesForMember(ctx context.Context, principal string) ([]*DataSpace, error)
}

// InvitationHandler receives the pending invitations found by one poll. It is
// only called when there is at least one.
type InvitationHandler func(ctx context.Context, invitations []Invitation)

// InvitationNotifier reports memberships a principal has been granted but has
// not acknowledged. Acknowledgements are local to the notifier.
type InvitationNotifier struct {
	spaces   MemberSpaceLister
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	acked map[string]map[string]struct{}
}

// NewInvitationNotifier creates a notifier. A non-positive interval uses the
// default of 30 seconds.
func NewInvitationNotifier(spaces MemberSpaceLister, interval time.Duration, logger *slog.Logger) (*InvitationNotifier, error) {
	if spaces == nil {
		return nil, errors.New("space lister is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InvitationNotifier{
		spaces:   spaces,
		interval: interval,
		logger:   logger,
		acked:    make(map[string]map[string]struct{}),
	}, nil
}

// Poll returns principal's pending invitations, oldest grant first. Spaces
// the principal created are never pending.
func (n *InvitationNotifier) Poll(ctx context.Context, principal string) ([]Invitation, error) {
	spaces, err := n.spaces.ListSpacesForMember(ctx, principal)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	acked := n.acked[principal]
	var pending []Invitation
	for _, space := range spaces {
		if space.CreatorPrincipal == principal {
			continue
		}
		if _, ok := acked[space.ID]; ok {
			continue
		}
		member, ok := space.Member(principal)
		if !ok {
			continue
		}
		pending = append(pending, Invitation{
			SpaceID:    space.ID,
			SpaceTitle: space.Title,
			Role:       member.Role,
			GrantedAt:  member.JoinedAt,
		})
	}
	n.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].GrantedAt.Equal(pending[j].GrantedAt) {
			return pending[i].GrantedAt.Before(pending[j].GrantedAt)
		}
		return pending[i].SpaceID < pending[j].SpaceID
	})
	return pending, nil
}

// Acknowledge marks the invitation to spaceID as seen by principal.
func (n *InvitationNotifier) Acknowledge(principal, spaceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.acked[principal] == nil {
		n.acked[principal] = make(map[string]struct{})
	}
	n.acked[principal][spaceID] = struct{}{}
}

// Start polls for principal immediately and then on every interval until the
// returned Poller is stopped or ctx is done. Poll errors are logged and the
// next interval retries.
func (n *InvitationNotifier) Start(ctx context.Context, principal string, handler InvitationHandler) *Poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{cancel: cancel, done: make(chan struct{})}
	go n.run(ctx, principal, handler, p.done)
	return p
}

func (n *InvitationNotifier) run(ctx context.Context, principal string, handler InvitationHandler, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		n.pollOnce(ctx, principal, handler)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *InvitationNotifier) pollOnce(ctx context.Context, principal string, handler InvitationHandler) {
	if ctx.Err() != nil {
		return
	}
	pending, err := n.Poll(ctx, principal)
	if err != nil {
		if ctx.Err() == nil {
			n.logger.Debug("invitation poll failed", "principal", principal, "error", err)
		}
		return
	}
	if len(pending) == 0 || ctx.Err() != nil || handler == nil {
		return
	}
	handler(ctx, pending)
}

// Poller is a running invitation poll loop.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the loop and waits for it to exit. Once Stop returns no
// further polls are made. It is safe to call more than once, but not from
// the loop's own handler, which must use Cancel instead.
func (p *Poller) Stop() {
	p.Cancel()
	<-p.done
}

// Cancel asks the loop to exit without waiting for it. Done is closed once
// the current handler call, if any, has returned.
func (p *Poller) Cancel() {
	p.once.Do(p.cancel)
}

// Done is closed when the loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}
