// Package purchase starts checkout for a course and hands the viewer over to
// the payment collaborator.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/metrics"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

// ButtonState UI state of the purchase action
type ButtonState int

const (
	ButtonIdle ButtonState = iota
	ButtonProcessing
	ButtonRedirecting
)

func (bs ButtonState) String() string {
	switch bs {
	case ButtonProcessing:
		return "processing"
	case ButtonRedirecting:
		return "redirecting"
	default:
		return "idle"
	}
}

// MarshalText .
func (bs ButtonState) MarshalText() ([]byte, error) {
	return []byte(bs.String()), nil
}

// CheckoutError checkout session could not be created, matches domain.ErrCheckoutCreationFailed
type CheckoutError struct {
	Err error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("%s: %v", domain.ErrCheckoutCreationFailed, e.Err)
}

// Is .
func (e *CheckoutError) Is(target error) bool {
	return target == domain.ErrCheckoutCreationFailed
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Orchestrator purchase flow of one view
type Orchestrator struct {
	repo    domain.CheckoutRepository
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	state ButtonState
}

// NewOrchestrator timeout bounds checkout-session creation
func NewOrchestrator(repo domain.CheckoutRepository, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Orchestrator{repo: repo, timeout: timeout, logger: logger}
}

// State current button state
func (o *Orchestrator) State() ButtonState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Initiate create a checkout session and return the URL the caller redirects to.
//
// Unauthenticated viewers get domain.ErrAuthRequired, navigating to sign-in is
// up to the caller. Any failure puts the button back to idle before returning.
func (o *Orchestrator) Initiate(ctx context.Context, viewer domain.Viewer, courseID string) (redirect string, err error) {
	if !viewer.Authenticated() {
		metrics.CheckoutTotal.WithLabelValues("auth_required").Inc()
		return "", domain.ErrAuthRequired
	}

	o.mu.Lock()
	if o.state == ButtonProcessing {
		o.mu.Unlock()
		metrics.CheckoutTotal.WithLabelValues("busy").Inc()
		return "", domain.ErrCheckoutInProgress
	}
	o.state = ButtonProcessing
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if err != nil {
			o.state = ButtonIdle
		} else {
			o.state = ButtonRedirecting
		}
		o.mu.Unlock()
	}()

	apmSpan, ctx := apm.StartSpan(ctx, "Orchestrator.Initiate", "service")
	defer apmSpan.End()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	redirect, err = o.repo.CreateCheckoutSession(ctx, viewer, courseID)
	if err != nil {
		metrics.CheckoutTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			o.logger.Warn("Checkout session creation timed out", zap.String("course.id", courseID), zap.Duration("checkout.timeout", o.timeout))
		} else {
			o.logger.Error("Checkout session creation failed", zap.String("course.id", courseID), zap.Error(err))
		}
		return "", &CheckoutError{Err: err}
	}
	metrics.CheckoutTotal.WithLabelValues("ok").Inc()
	o.logger.Info("Checkout session created", zap.String("course.id", courseID), zap.String("user.id", viewer.UserID))
	return redirect, nil
}

// Reset the viewer came back from the payment collaborator
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == ButtonRedirecting {
		o.state = ButtonIdle
	}
}
