package vm

import "github.com/tliron/commonlog"

var (
	vmLog    = commonlog.GetLogger("tiervm.vm")
	jitLog   = commonlog.GetLogger("tiervm.jit")
	deoptLog = commonlog.GetLogger("tiervm.deopt")
	cacheLog = commonlog.GetLogger("tiervm.cache")
)
