package modelkit

import (
	"errors"
	"fmt"
	"strings"
)

// Registration errors. They signal a programming error in the declared model
// and are never recovered automatically.
var (
	// ErrDuplicateEntity is returned when an entity name is registered twice.
	ErrDuplicateEntity = errors.New("modelkit: duplicate entity")

	// ErrInvalidField is returned when a field's constraints contradict each other.
	ErrInvalidField = errors.New("modelkit: invalid field")

	// ErrUnknownEntity is returned when resolving a name that was never registered.
	ErrUnknownEntity = errors.New("modelkit: unknown entity")

	// ErrDanglingForeignKey is returned when a relationship references an entity,
	// or a primary key, that does not exist.
	ErrDanglingForeignKey = errors.New("modelkit: dangling foreign key")

	// ErrMissingLinkEntity is returned when a many-to-many relationship has no
	// link entity and one cannot be generated.
	ErrMissingLinkEntity = errors.New("modelkit: missing link entity")

	// ErrAsymmetricBackReference is returned when only one side of a
	// relationship pair is declared.
	ErrAsymmetricBackReference = errors.New("modelkit: asymmetric back-reference")

	// ErrSealed is returned when registering into a registry that was already validated.
	ErrSealed = errors.New("modelkit: registry is sealed")

	// ErrNotValidated is returned when the relationship index is used before Validate.
	ErrNotValidated = errors.New("modelkit: registry is not validated")
)

// Session errors. They are local to one unit of work; the session remains
// usable for Abort and Close after any of them.
var (
	// ErrAlreadyStaged is returned when a non-transient instance is staged for creation.
	ErrAlreadyStaged = errors.New("modelkit: instance already staged")

	// ErrInstanceDeleted is returned for any operation on a deleted instance.
	ErrInstanceDeleted = errors.New("modelkit: instance deleted")

	// ErrDetachedInstance is returned when an instance is used outside the
	// open session it belongs to.
	ErrDetachedInstance = errors.New("modelkit: detached instance")

	// ErrConflictingWrite is returned when a concurrent session committed a
	// write to the same primary key first.
	ErrConflictingWrite = errors.New("modelkit: conflicting write")

	// ErrNotPersisted is returned when updating or deleting an instance that
	// was never persisted.
	ErrNotPersisted = errors.New("modelkit: instance not persisted")

	// ErrSessionClosed is returned for staging or commit calls on a closed session.
	ErrSessionClosed = errors.New("modelkit: session closed")

	// ErrCyclicDependency is returned when staged creates reference each other
	// in a cycle and cannot be ordered.
	ErrCyclicDependency = errors.New("modelkit: cyclic dependency between staged creates")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("modelkit: entity not found")
)

// Migration and storage errors.
var (
	// ErrUnsafeNonNullableAddition is returned when a non-nullable column is
	// added to an existing table without an explicit default.
	ErrUnsafeNonNullableAddition = errors.New("modelkit: unsafe non-nullable column addition")

	// ErrFailedAtStep is matched by every *StepError.
	ErrFailedAtStep = errors.New("modelkit: migration failed at step")

	// ErrDestructiveStep is returned when applying a plan with destructive
	// steps that were not approved.
	ErrDestructiveStep = errors.New("modelkit: destructive migration step not approved")

	// ErrStorageUnavailable marks connectivity and timeout failures: retry later.
	ErrStorageUnavailable = errors.New("modelkit: storage unavailable")
)

// SchemaError describes a registration-time failure. Kind is one of the
// registration sentinels and is matched by errors.Is.
type SchemaError struct {
	Kind    error
	Entity  string
	Field   string // Field name (if applicable)
	Edge    string // Edge name (if applicable)
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		if e.Edge != "" {
			b.WriteString(" edge ")
			b.WriteString(e.Edge)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Is reports whether target is the error kind.
func (e *SchemaError) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error { return e.Cause }

// NewSchemaError returns a SchemaError of the given kind.
func NewSchemaError(kind error, entity, message string) *SchemaError {
	return &SchemaError{Kind: kind, Entity: entity, Message: message}
}

// InvalidField returns an ErrInvalidField error for the given field.
func InvalidField(entity, name string, cause error) *SchemaError {
	return &SchemaError{Kind: ErrInvalidField, Entity: entity, Field: name, Cause: cause}
}

// EdgeError returns a SchemaError of the given kind for an edge.
func EdgeError(kind error, entity, edge, format string, args ...any) *SchemaError {
	return &SchemaError{Kind: kind, Entity: entity, Edge: edge, Message: fmt.Sprintf(format, args...)}
}

// IsSchemaError returns true if the error is a SchemaError.
func IsSchemaError(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("modelkit: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("modelkit: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError with the ID that was searched for.
func NewNotFoundError(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ConstraintError represents a storage constraint violation (unique, foreign
// key, check). It means "fix the data", not "retry later".
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("modelkit: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// ValidationError represents a validation error for field values.
type ValidationError struct {
	Name string // Field or entity name
	Err  error  // Underlying validation error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("modelkit: validator failed for field %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// StepError reports the migration step that failed. Position is the index of
// the step in the plan; Applied holds the number of steps that completed
// before it and were not rolled back.
type StepError struct {
	Position int
	Applied  int
	Step     string
	Err      error
}

// Error returns the error string.
func (e *StepError) Error() string {
	return fmt.Sprintf("modelkit: migration failed at step %d (%s): %v", e.Position, e.Step, e.Err)
}

// Is reports whether target is ErrFailedAtStep.
func (e *StepError) Is(target error) bool { return target == ErrFailedAtStep }

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error { return e.Err }

// StorageError wraps a storage failure with its classified kind
// (ErrConflictingWrite or ErrStorageUnavailable).
type StorageError struct {
	Kind error
	Op   string
	Err  error
}

// Error returns the error string.
func (e *StorageError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Is reports whether target is the error kind.
func (e *StorageError) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// ConflictingWrite wraps err as an ErrConflictingWrite failure.
func ConflictingWrite(op string, err error) error {
	return &StorageError{Kind: ErrConflictingWrite, Op: op, Err: err}
}

// StorageUnavailable wraps err as an ErrStorageUnavailable failure.
func StorageUnavailable(op string, err error) error {
	return &StorageError{Kind: ErrStorageUnavailable, Op: op, Err: err}
}

// IsConflictingWrite reports whether err is a write conflict.
func IsConflictingWrite(err error) bool { return errors.Is(err, ErrConflictingWrite) }

// IsStorageUnavailable reports whether err is a connectivity or timeout failure.
func IsStorageUnavailable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("modelkit: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "modelkit: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("modelkit: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors so errors.Is and errors.As see each one.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// MutationError wraps a mutation error with additional context.
type MutationError struct {
	Entity string // Entity type being mutated
	Op     string // Operation (e.g., "create", "update", "delete")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("modelkit: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}
