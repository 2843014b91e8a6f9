package app

import (
	"time"

	"github.com/fatflowers/settle/internal/app/api/server"
	"github.com/fatflowers/settle/internal/app/service/checkout"
	"github.com/fatflowers/settle/internal/app/service/fulfillment"
	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/notify"
	"github.com/fatflowers/settle/internal/app/service/reconciler"
	"github.com/fatflowers/settle/internal/app/service/statistics"
	"github.com/fatflowers/settle/internal/app/service/webhook"
	"github.com/fatflowers/settle/internal/platform/boltdb"
	"github.com/fatflowers/settle/internal/platform/db"
	"github.com/fatflowers/settle/internal/platform/flutterwave"
	"github.com/fatflowers/settle/internal/platform/nowpayments"
	"github.com/fatflowers/settle/internal/platform/paystack"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 30 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	boltdb.Module,
	journey.Module,
	paystack.Module,
	flutterwave.Module,
	nowpayments.Module,
	gateway.Module,
	fulfillment.Module,
	notify.Module,
	reconciler.Module,
	checkout.Module,
	webhook.Module,
	statistics.Module,
	server.Module,
)
