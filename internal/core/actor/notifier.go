package actor

import (
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
)

// MasterNotifier forwards record lifecycle notifications to the master actor.
type MasterNotifier struct {
	root   *actor.RootContext
	master *actor.PID
}

func NewMasterNotifier(root *actor.RootContext, master *actor.PID) *MasterNotifier {
	return &MasterNotifier{
		root:   root,
		master: master,
	}
}

func (n *MasterNotifier) OnEntryCreated(record domain.DeviceRecord) {
	n.root.Send(n.master, domain.RecordCreatedRequest{Record: record})
}

func (n *MasterNotifier) OnEntryRemoved(ip string) {
	n.root.Send(n.master, domain.RecordRemovedRequest{IP: ip})
}

// EntityStates asks the master for the entity states of ip, or of every record when ip is empty.
func (n *MasterNotifier) EntityStates(ip string, timeout time.Duration) ([]domain.EntityState, error) {
	res, err := n.root.RequestFuture(n.master, domain.GetEntityStatesRequest{IP: ip}, timeout).Result()
	if err != nil {
		return nil, err
	}
	resp, ok := res.(domain.GetEntityStatesResponse)
	if !ok {
		return nil, domain.ErrMalformedInput
	}
	return resp.States, resp.GetResponseError()
}

// ensure interface compliance
var _ port.RecordObserver = (*MasterNotifier)(nil)
