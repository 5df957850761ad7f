package domain

import "errors"

// ErrAuthRequired viewer must sign in before the operation
var ErrAuthRequired = errors.New("Authentication is required")

// ErrCheckoutCreationFailed payment collaborator could not create a checkout session
var ErrCheckoutCreationFailed = errors.New("Failed to create checkout session")

// ErrCheckoutInProgress a checkout is already being created for this view
var ErrCheckoutInProgress = errors.New("Checkout is already in progress")

// ErrVideoNotFound video does not belong to the course
var ErrVideoNotFound = errors.New("No such video in course")

// ErrViewNotFound no mounted view with given id
var ErrViewNotFound = errors.New("No such view")

// ErrInvalidTransition playback event is not allowed in current state
var ErrInvalidTransition = errors.New("Invalid playback transition")

// ErrRetriesExhausted manual retry budget is used up
var ErrRetriesExhausted = errors.New("Retry limit reached")

// ErrNoActiveSession operation needs a selected video
var ErrNoActiveSession = errors.New("No active playback session")

// ErrInvalidRate playback rate out of range
var ErrInvalidRate = errors.New("Playback rate out of range")

// ErrMediaNotReady media URL has not been issued yet
var ErrMediaNotReady = errors.New("Media is not available yet")
