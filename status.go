package ipcf

import "fmt"

// Status is the engine's result code. Zero is success; any other value is a
// failure.
type Status int32

// StatusOK is the only success code.
const StatusOK Status = 0

// Well-known codes. Engines may return others.
const (
	StatusFail         Status = -2147467259 // 0x80004005
	StatusInvalidArg   Status = -2147024809 // 0x80070057
	StatusOutOfMemory  Status = -2147024882 // 0x8007000E
	StatusAccessDenied Status = -2147024891 // 0x80070005
	StatusFileNotFound Status = -2147024894 // 0x80070002
	StatusCancelled    Status = -2147023673 // 0x800704C7
	StatusNotImpl      Status = -2147467263 // 0x80004001
)

var statusNames = map[Status]string{
	StatusOK:           "S_OK",
	StatusFail:         "E_FAIL",
	StatusInvalidArg:   "E_INVALIDARG",
	StatusOutOfMemory:  "E_OUTOFMEMORY",
	StatusAccessDenied: "E_ACCESSDENIED",
	StatusFileNotFound: "ERROR_FILE_NOT_FOUND",
	StatusCancelled:    "ERROR_CANCELLED",
	StatusNotImpl:      "E_NOTIMPL",
}

// Failed reports whether s is a failure code.
func (s Status) Failed() bool {
	return s != StatusOK
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("%s (0x%08X)", name, uint32(s))
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}
