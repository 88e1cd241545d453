package errx

// RegistryEntry describes a registered error code.
type RegistryEntry struct {
	Code        string
	Description string
}

// Error codes follow a stable 5-digit scheme where the first two digits are the
// domain and the last three digits are reserved for subcodes.
const (
	CodeCLI     = "70000"
	CodeKernel  = "71000"
	CodeDecode  = "72000"
	CodeReceive = "73000"
	CodeSend    = "74000"
	CodeTimeout = "75000"
	CodeRight   = "76000"
	CodeConfig  = "79000"
)

const (
	DescCLI     = "CLI/argument validation error"
	DescKernel  = "Kernel call rejected"
	DescDecode  = "Exception message decode error"
	DescReceive = "Message receive error"
	DescSend    = "Message send error"
	DescTimeout = "Timed out waiting for a notification"
	DescRight   = "Port right error"
	DescConfig  = "Configuration error"
)

var registryEntries = []RegistryEntry{
	{Code: CodeCLI, Description: DescCLI},
	{Code: CodeKernel, Description: DescKernel},
	{Code: CodeDecode, Description: DescDecode},
	{Code: CodeReceive, Description: DescReceive},
	{Code: CodeSend, Description: DescSend},
	{Code: CodeTimeout, Description: DescTimeout},
	{Code: CodeRight, Description: DescRight},
	{Code: CodeConfig, Description: DescConfig},
}

var registryMap = func() map[string]string {
	m := make(map[string]string, len(registryEntries))
	for _, entry := range registryEntries {
		m[entry.Code] = entry.Description
	}
	return m
}()

// ErrorRegistry returns the registered codes in deterministic order.
func ErrorRegistry() []RegistryEntry {
	entries := make([]RegistryEntry, len(registryEntries))
	copy(entries, registryEntries)
	return entries
}

// DescriptionFor returns the registry description for a code.
func DescriptionFor(code string) (string, bool) {
	desc, ok := registryMap[code]
	return desc, ok
}

// IsValidCode checks if the given error code is registered.
func IsValidCode(code string) bool {
	_, ok := registryMap[code]
	return ok
}

// CreateByCode creates an Error for code, wrapping cause when it is non-nil.
// The description is taken from the registry.
func CreateByCode(code, message string, cause error) *Error {
	desc, _ := DescriptionFor(code)
	if cause != nil {
		return Wrap(code, desc, message, cause)
	}
	return New(code, desc, message)
}

// FromSentinel creates an Error whose category is looked up from sentinel and
// whose base is sentinel, so errors.Is(err, sentinel) holds.
func FromSentinel(sentinel error, lookup func(error) string, message string, cause error) *Error {
	code := lookup(sentinel)
	if !IsValidCode(code) {
		code = CodeCLI
	}
	return CreateByCode(code, message, cause).WithBase(sentinel)
}

// CLI creates a CLI/argument validation error.
func CLI(message string) *Error { return New(CodeCLI, DescCLI, message) }

// WrapCLI wraps a cause with a CLI/argument validation error.
func WrapCLI(message string, cause error) *Error { return Wrap(CodeCLI, DescCLI, message, cause) }

// Kernel creates a rejected-kernel-call error.
func Kernel(message string) *Error { return New(CodeKernel, DescKernel, message) }

// WrapKernel wraps a kern_return_t (or other cause) as a rejected-kernel-call error.
func WrapKernel(message string, cause error) *Error {
	return Wrap(CodeKernel, DescKernel, message, cause)
}

// Decode creates a message decode error.
func Decode(message string) *Error { return New(CodeDecode, DescDecode, message) }

// WrapReceive wraps a receive failure.
func WrapReceive(message string, cause error) *Error {
	return Wrap(CodeReceive, DescReceive, message, cause)
}

// WrapSend wraps a send failure.
func WrapSend(message string, cause error) *Error {
	return Wrap(CodeSend, DescSend, message, cause)
}

// Timeout creates a timeout error.
func Timeout(message string) *Error { return New(CodeTimeout, DescTimeout, message) }

// Right creates a port right error.
func Right(message string) *Error { return New(CodeRight, DescRight, message) }

// Config creates a configuration error.
func Config(message string) *Error { return New(CodeConfig, DescConfig, message) }

// WrapConfig wraps a cause with a configuration error.
func WrapConfig(message string, cause error) *Error {
	return Wrap(CodeConfig, DescConfig, message, cause)
}
