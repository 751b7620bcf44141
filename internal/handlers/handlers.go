package handlers

import (
	"campustv/internal/payments"
	"campustv/internal/reconciler"
	"campustv/internal/store"
	"campustv/internal/ws"
	"campustv/pkg/logging"
)

var (
	st        *store.Store
	finalizer *reconciler.Finalizer
	orderLoop *reconciler.OrderLoop
	gateway   payments.Gateway
	hub       *ws.Hub
	logger    logging.Logger
)

// Init initializes the handlers with their collaborators.
func Init(s *store.Store, fin *reconciler.Finalizer, orders *reconciler.OrderLoop, gw payments.Gateway, h *ws.Hub, log logging.Logger) {
	st = s
	finalizer = fin
	orderLoop = orders
	gateway = gw
	hub = h
	logger = log
}
