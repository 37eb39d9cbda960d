package vault

import "errors"

var (
	// ErrZeroAmount indicates the caller supplied a nil, zero, or negative amount.
	ErrZeroAmount = errors.New("vault: amount must be positive")
	// ErrInsufficientBalance indicates a withdrawal exceeded the caller's credited balance.
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	// ErrNoConversionPath indicates the exchange adapter cannot price the requested pair.
	ErrNoConversionPath = errors.New("vault: no conversion path")
	// ErrCapacityExceeded indicates the pre-flight estimate would breach the capacity ceiling.
	ErrCapacityExceeded = errors.New("vault: capacity ceiling exceeded")
	// ErrConversionFailed indicates the adapter execution reverted or returned below the minimum output.
	ErrConversionFailed = errors.New("vault: conversion failed")
	// ErrReentrantCall indicates a mutating operation was attempted while another is in flight.
	ErrReentrantCall = errors.New("vault: reentrant call")
	// ErrPaused indicates mutating operations are administratively suspended.
	ErrPaused = errors.New("vault: deposits and withdrawals paused")
)
