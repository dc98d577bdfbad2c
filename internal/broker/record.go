package broker

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/connection"
)

// record is one pooled connection entry. It exists so the broker's timer
// can reap finished connections and inspect their verdicts, mirroring
// ctsSocketBroker's std::vector<shared_ptr<ctsSocketState>> pool even
// though Go's GC, not the pool, actually owns the connection's memory.
type record struct {
	id     uuid.UUID
	conn   *connection.Conn
	closed atomic.Bool
	verdict ctstraffic.Verdict
}

func (r *record) isClosed() bool { return r.closed.Load() }
