package server

import (
	"errors"

	"github.com/tliron/commonlog"
)

var serverLog = commonlog.GetLogger("tiervm.server")

// ErrWorkerStopped is returned by VMWorker.Do after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")
