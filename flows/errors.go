package flows

import "fmt"

// ConfigurationError is raised for an invalid rule set or filter
// regex. It is detected synchronously, before any request is
// dispatched to an agent.
type ConfigurationError struct {
	Message string
}

func (self *ConfigurationError) Error() string {
	return self.Message
}

// ValidationError is raised when a dump request selects no target
// processes at all. Synchronous, pre dispatch.
type ValidationError struct {
	Message string
}

func (self *ValidationError) Error() string {
	return self.Message
}

// TaskError means a remote call or sub task reported failure. It is
// always fatal to the enclosing task and never retried at this layer.
type TaskError struct {
	Status string
}

func (self *TaskError) Error() string {
	return self.Status
}

// ParseError means a legacy dump filename did not match the expected
// encoding during migration.
type ParseError struct {
	Path    string
	Message string
}

func (self *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", self.Message, self.Path)
}
