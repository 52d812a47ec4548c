package checkfile

// ExitStatus is the process exit code of a guarded operation. The named values
// follow sysexits.h.
type ExitStatus int

const (
	OK          ExitStatus = 0
	Usage       ExitStatus = 64
	DataError   ExitStatus = 65
	NoInput     ExitStatus = 66
	NoUser      ExitStatus = 67
	NoHost      ExitStatus = 68
	Unavailable ExitStatus = 69
	CodeError   ExitStatus = 70
	CantCreate  ExitStatus = 73
	IOError     ExitStatus = 74
	TempFailure ExitStatus = 75
	Protocol    ExitStatus = 76
	NoPerm      ExitStatus = 77
	Config      ExitStatus = 78
)
