package vm

import (
	"github.com/tliron/commonlog"
)

// logger is the package logger used by the loader and writer. Each VM may
// carry its own logger; see WithLogger.
var logger = commonlog.GetLogger("vela.vm")
