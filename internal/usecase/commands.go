package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
)

var validate = validator.New()

// CreateUserPayload creates a user profile.
type CreateUserPayload struct {
	ID         string         `json:"id,omitempty" validate:"omitempty,uuid"`
	Name       string         `json:"name" validate:"required,max=256"`
	Email      string         `json:"email,omitempty" validate:"omitempty,email"`
	Properties map[string]any `json:"properties,omitempty"`
}

// CreatedEntityID implements domain.CreateModelPayload.
func (p CreateUserPayload) CreatedEntityID() string { return p.ID }

// ChangeProfilePropertiesPayload changes properties of a profile or role.
type ChangeProfilePropertiesPayload struct {
	ID         string            `json:"id" validate:"required"`
	ObjectType domain.ObjectType `json:"object_type" validate:"required,oneof=User Group Organization Role"`
	Properties map[string]any    `json:"properties" validate:"required,min=1"`
}

// ChangeFunctionPropertiesPayload changes a function or the role/organization embedded in it.
type ChangeFunctionPropertiesPayload struct {
	FunctionID string                 `json:"function_id" validate:"required"`
	Context    domain.FunctionContext `json:"context,omitempty" validate:"omitempty,oneof=Self Role Organization"`
	Properties map[string]any         `json:"properties" validate:"required,min=1"`
}

// MemberPayload adds or removes a member of a container profile.
type MemberPayload struct {
	Parent     domain.ObjectIdent      `json:"parent"`
	Member     domain.ObjectIdent      `json:"member"`
	Conditions []domain.RangeCondition `json:"conditions,omitempty"`
}

// SetClientSettingsPayload replaces the client settings of a container profile.
type SetClientSettingsPayload struct {
	Profile  domain.ObjectIdent `json:"profile"`
	Settings map[string]string  `json:"settings" validate:"required"`
}

// BuiltinCommands registers the command services shipped with the service.
// Profiles is optional; without it validation skips existence checks.
type BuiltinCommands struct {
	Profiles port.ProfileStore
	NewID    func() string
	Now      func() time.Time
}

// Register binds every built-in command kind on the registry.
func (b BuiltinCommands) Register(registry *CommandRegistry) error {
	if b.NewID == nil {
		b.NewID = uuid.NewString
	}
	if b.Now == nil {
		b.Now = time.Now
	}

	entries := map[domain.CommandKind]CommandServiceConstructor{
		domain.CommandCreateUser: func() port.CommandService {
			return NewTypedCommandService(domain.CommandCreateUser, TypedHandlers[CreateUserPayload]{
				Modify:   b.modifyCreateUser,
				Validate: b.validateCreateUser,
				Create:   b.createUser,
			}, b.NewID, b.Now)
		},
		domain.CommandChangeProfileProperties: func() port.CommandService {
			return NewTypedCommandService(domain.CommandChangeProfileProperties, TypedHandlers[ChangeProfilePropertiesPayload]{
				Validate: b.validateProfileProperties,
				Create:   b.createProfileProperties,
			}, b.NewID, b.Now)
		},
		domain.CommandChangeFunctionProperties: func() port.CommandService {
			return NewTypedCommandService(domain.CommandChangeFunctionProperties, TypedHandlers[ChangeFunctionPropertiesPayload]{
				Modify:   modifyFunctionProperties,
				Validate: b.validateFunctionProperties,
				Create:   createFunctionProperties,
			}, b.NewID, b.Now)
		},
		domain.CommandAddMember: func() port.CommandService {
			return NewTypedCommandService(domain.CommandAddMember, TypedHandlers[MemberPayload]{
				Validate: b.validateAddMember,
				Create:   createMemberAdded,
			}, b.NewID, b.Now)
		},
		domain.CommandRemoveMember: func() port.CommandService {
			return NewTypedCommandService(domain.CommandRemoveMember, TypedHandlers[MemberPayload]{
				Validate: b.validateRemoveMember,
				Create:   createMemberRemoved,
			}, b.NewID, b.Now)
		},
		domain.CommandSetClientSettings: func() port.CommandService {
			return NewTypedCommandService(domain.CommandSetClientSettings, TypedHandlers[SetClientSettingsPayload]{
				Validate: b.validateClientSettings,
				Create:   createClientSettingsSet,
			}, b.NewID, b.Now)
		},
	}

	for kind, ctor := range entries {
		if err := registry.Register(kind, ctor); err != nil {
			return err
		}
	}
	return nil
}

func (b BuiltinCommands) modifyCreateUser(_ context.Context, payload CreateUserPayload) (CreateUserPayload, error) {
	payload.Name = strings.TrimSpace(payload.Name)
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	if payload.ID == "" {
		payload.ID = b.NewID()
	}
	return payload, nil
}

func (b BuiltinCommands) validateCreateUser(ctx context.Context, payload CreateUserPayload, _ domain.Initiator) (domain.ValidationResult, error) {
	if result := structResult(payload); !result.IsValid {
		return result, nil
	}
	exists, err := b.profileExists(ctx, domain.ObjectIdent{ID: payload.ID, Type: domain.ObjectUser})
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if exists {
		return domain.Invalid(domain.ValidationError{Member: "ID", Message: "user already exists"}), nil
	}
	return domain.Valid(), nil
}

func (b BuiltinCommands) createUser(_ context.Context, payload CreateUserPayload, meta domain.EventMetadata) (domain.ProfileEvent, error) {
	properties := make(map[string]any, len(payload.Properties)+1)
	for k, v := range payload.Properties {
		properties[k] = v
	}
	if payload.Email != "" {
		properties["email"] = payload.Email
	}
	return domain.ProfileCreated{
		EventBase: domain.EventBase{Meta: meta},
		Profile: domain.Profile{
			ID:         payload.ID,
			Type:       domain.ObjectUser,
			Name:       payload.Name,
			Properties: properties,
			CreatedAt:  meta.Timestamp,
			UpdatedAt:  meta.Timestamp,
		},
	}, nil
}

func (b BuiltinCommands) validateProfileProperties(ctx context.Context, payload ChangeProfilePropertiesPayload, _ domain.Initiator) (domain.ValidationResult, error) {
	if result := structResult(payload); !result.IsValid {
		return result, nil
	}
	if payload.ObjectType == domain.ObjectRole {
		return domain.Valid(), nil
	}
	exists, err := b.profileExists(ctx, domain.ObjectIdent{ID: payload.ID, Type: payload.ObjectType})
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if !exists && b.Profiles != nil {
		return domain.Invalid(domain.ValidationError{Member: "ID", Message: "profile not found"}), nil
	}
	return domain.Valid(), nil
}

func (b BuiltinCommands) createProfileProperties(_ context.Context, payload ChangeProfilePropertiesPayload, meta domain.EventMetadata) (domain.ProfileEvent, error) {
	return domain.PropertiesChanged{
		EventBase:      domain.EventBase{Meta: meta},
		ID:             payload.ID,
		ObjectType:     payload.ObjectType,
		Properties:     payload.Properties,
		RelatedContext: domain.ContextSelf,
	}, nil
}

func modifyFunctionProperties(_ context.Context, payload ChangeFunctionPropertiesPayload) (ChangeFunctionPropertiesPayload, error) {
	if payload.Context == "" {
		payload.Context = domain.FunctionContextSelf
	}
	return payload, nil
}

func (b BuiltinCommands) validateFunctionProperties(ctx context.Context, payload ChangeFunctionPropertiesPayload, _ domain.Initiator) (domain.ValidationResult, error) {
	if result := structResult(payload); !result.IsValid {
		return result, nil
	}
	if b.Profiles == nil {
		return domain.Valid(), nil
	}
	var found bool
	err := b.read(ctx, func(tx port.ProfileTx) error {
		_, err := tx.GetFunction(ctx, payload.FunctionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if !found {
		return domain.Invalid(domain.ValidationError{Member: "FunctionID", Message: "function not found"}), nil
	}
	return domain.Valid(), nil
}

func createFunctionProperties(_ context.Context, payload ChangeFunctionPropertiesPayload, meta domain.EventMetadata) (domain.ProfileEvent, error) {
	return domain.FunctionChanged{
		EventBase:       domain.EventBase{Meta: meta},
		Function:        domain.Function{ID: payload.FunctionID},
		FunctionContext: payload.Context,
		Context:         domain.ContextSelf,
		Properties:      payload.Properties,
	}, nil
}

func (b BuiltinCommands) validateAddMember(ctx context.Context, payload MemberPayload, _ domain.Initiator) (domain.ValidationResult, error) {
	result := validateMembership(payload)
	for i, condition := range payload.Conditions {
		if condition.Start != nil && condition.End != nil && !condition.End.After(*condition.Start) {
			result.Errors = append(result.Errors, domain.ValidationError{
				Member:  fmt.Sprintf("Conditions[%d]", i),
				Message: "end must be after start",
			})
		}
	}
	if len(result.Errors) > 0 {
		return domain.Invalid(result.Errors...), nil
	}

	for _, ident := range []domain.ObjectIdent{payload.Parent, payload.Member} {
		exists, err := b.profileExists(ctx, ident)
		if err != nil {
			return domain.ValidationResult{}, err
		}
		if !exists && b.Profiles != nil {
			result.Errors = append(result.Errors, domain.ValidationError{Member: ident.String(), Message: "profile not found"})
		}
	}
	if len(result.Errors) > 0 {
		return domain.Invalid(result.Errors...), nil
	}
	return domain.Valid(), nil
}

func (b BuiltinCommands) validateRemoveMember(_ context.Context, payload MemberPayload, _ domain.Initiator) (domain.ValidationResult, error) {
	result := validateMembership(payload)
	if len(result.Errors) > 0 {
		return domain.Invalid(result.Errors...), nil
	}
	return domain.Valid(), nil
}

func validateMembership(payload MemberPayload) domain.ValidationResult {
	var errs []domain.ValidationError
	if payload.Parent.ID == "" || !payload.Parent.Type.IsContainer() {
		errs = append(errs, domain.ValidationError{Member: "Parent", Message: "parent must be a group or organization"})
	}
	if payload.Member.ID == "" || !payload.Member.Type.IsProfile() {
		errs = append(errs, domain.ValidationError{Member: "Member", Message: "member must be a user, group or organization"})
	}
	if payload.Parent == payload.Member {
		errs = append(errs, domain.ValidationError{Member: "Member", Message: "profile cannot be a member of itself"})
	}
	return domain.ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func createMemberAdded(_ context.Context, payload MemberPayload, meta domain.EventMetadata) (domain.ProfileEvent, error) {
	return domain.MemberAdded{
		EventBase:  domain.EventBase{Meta: meta},
		Parent:     payload.Parent,
		Member:     payload.Member,
		Conditions: payload.Conditions,
	}, nil
}

func createMemberRemoved(_ context.Context, payload MemberPayload, meta domain.EventMetadata) (domain.ProfileEvent, error) {
	return domain.MemberRemoved{
		EventBase: domain.EventBase{Meta: meta},
		Parent:    payload.Parent,
		Member:    payload.Member,
	}, nil
}

func (b BuiltinCommands) validateClientSettings(ctx context.Context, payload SetClientSettingsPayload, _ domain.Initiator) (domain.ValidationResult, error) {
	if result := structResult(payload); !result.IsValid {
		return result, nil
	}
	if !payload.Profile.Type.IsContainer() {
		return domain.Invalid(domain.ValidationError{Member: "Profile", Message: "client settings can only be set on groups and organizations"}), nil
	}
	for key := range payload.Settings {
		if strings.TrimSpace(key) == "" {
			return domain.Invalid(domain.ValidationError{Member: "Settings", Message: "setting key must not be empty"}), nil
		}
	}
	exists, err := b.profileExists(ctx, payload.Profile)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if !exists && b.Profiles != nil {
		return domain.Invalid(domain.ValidationError{Member: "Profile", Message: "profile not found"}), nil
	}
	return domain.Valid(), nil
}

func createClientSettingsSet(_ context.Context, payload SetClientSettingsPayload, meta domain.EventMetadata) (domain.ProfileEvent, error) {
	settings := make([]domain.ClientSetting, 0, len(payload.Settings))
	for key, value := range payload.Settings {
		settings = append(settings, domain.ClientSetting{Key: key, Value: value})
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return domain.ClientSettingsSet{
		EventBase: domain.EventBase{Meta: meta},
		Profile:   payload.Profile,
		Settings:  settings,
	}, nil
}

func (b BuiltinCommands) profileExists(ctx context.Context, ident domain.ObjectIdent) (bool, error) {
	if b.Profiles == nil {
		return false, nil
	}
	var found bool
	err := b.read(ctx, func(tx port.ProfileTx) error {
		_, err := tx.GetProfile(ctx, ident)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (b BuiltinCommands) read(ctx context.Context, fn func(tx port.ProfileTx) error) error {
	tx, err := b.Profiles.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin profile read: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()
	return fn(tx)
}

func structResult(payload any) domain.ValidationResult {
	err := validate.Struct(payload)
	if err == nil {
		return domain.Valid()
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.InvalidMessages(err.Error())
	}
	errs := make([]domain.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, domain.ValidationError{
			Member:  fe.Field(),
			Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
		})
	}
	return domain.Invalid(errs...)
}
