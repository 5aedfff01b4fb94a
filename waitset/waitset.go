// Package waitset populates an mw.WaitSet snapshot from the handle slices a
// Selector tracks: resize to the right entity counts, then add every handle
// in order, recording the index each Add call returns so the caller can
// later read back readiness through the same WaitSet.
package waitset

import "github.com/rclgo/rclgo/mw"

// Snapshot is the per-iteration result of Populate: each field is the index
// sequence matching the handle slice passed in, to be used against the
// WaitSet's *Ready accessors after Wait returns.
type Snapshot struct {
	Subscriptions []int
	Services      []int
	Clients       []int
	Guards        []int
	ActionServers []int
	ActionClients []int
}

// Populate resizes ws to match the length of each slice, then adds every
// handle, returning the indices assigned. It is the middleware-agnostic half
// of spec.md §4.3 steps 2 and 3: any mw.WaitSet implementation (loopback or
// a future DDS-backed one) can be driven through this same call.
func Populate(
	ws mw.WaitSet,
	subs []mw.SubscriptionHandle,
	svcs []mw.ServiceHandle,
	clis []mw.ClientHandle,
	guards []mw.GuardHandle,
	actionServers []mw.ActionServerHandle,
	actionClients []mw.ActionClientHandle,
) (Snapshot, error) {
	if err := ws.Resize(mw.EntityCounts{
		Subscriptions: len(subs),
		Services:      len(svcs),
		Clients:       len(clis),
		Guards:        len(guards),
		ActionServers: len(actionServers),
		ActionClients: len(actionClients),
	}); err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot

	snap.Subscriptions = make([]int, len(subs))
	for i, h := range subs {
		idx, err := ws.AddSubscription(h)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Subscriptions[i] = idx
	}

	snap.Services = make([]int, len(svcs))
	for i, h := range svcs {
		idx, err := ws.AddService(h)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Services[i] = idx
	}

	snap.Clients = make([]int, len(clis))
	for i, h := range clis {
		idx, err := ws.AddClient(h)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Clients[i] = idx
	}

	snap.Guards = make([]int, len(guards))
	for i, h := range guards {
		idx, err := ws.AddGuardCondition(h)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Guards[i] = idx
	}

	snap.ActionServers = make([]int, len(actionServers))
	for i, h := range actionServers {
		idx, err := ws.AddActionServer(h)
		if err != nil {
			return Snapshot{}, err
		}
		snap.ActionServers[i] = idx
	}

	snap.ActionClients = make([]int, len(actionClients))
	for i, h := range actionClients {
		idx, err := ws.AddActionClient(h)
		if err != nil {
			return Snapshot{}, err
		}
		snap.ActionClients[i] = idx
	}

	return snap, nil
}
