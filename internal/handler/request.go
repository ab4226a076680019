package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/validator"
)

// ContextCaller is the gin context key holding the authenticated model.Caller.
const ContextCaller = "caller"

const DateLayout = "2006-01-02"

func SetCaller(c *gin.Context, caller model.Caller) {
	c.Set(ContextCaller, caller)
}

// Caller returns the authenticated caller or an unauthorized error when the
// route was reached without authentication.
func Caller(c *gin.Context) (model.Caller, error) {
	v, ok := c.Get(ContextCaller)
	if !ok {
		return model.Caller{}, apperrors.Unauthorized(nil)
	}
	caller, ok := v.(model.Caller)
	if !ok {
		return model.Caller{}, apperrors.Unauthorized(nil)
	}
	return caller, nil
}

func UUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.NewValidation(fmt.Sprintf("invalid %s", name), err)
	}
	return id, nil
}

// OptionalUUIDQuery parses an optional query parameter; absent yields nil.
func OptionalUUIDQuery(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("invalid %s", name), err)
	}
	return &id, nil
}

// OptionalTimeQuery accepts RFC 3339 timestamps.
func OptionalTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("invalid %s, expected RFC 3339", name), err)
	}
	return &t, nil
}

// Bind decodes the JSON body into obj and runs its validate tags.
func Bind(c *gin.Context, v validator.Validator, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return apperrors.NewValidation("invalid request body", err)
	}
	return v.Validate(obj)
}
