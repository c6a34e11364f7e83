package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/brandforge/metering/internal/app/api/server"
	"github.com/brandforge/metering/internal/app/service/billing"
	billinglog "github.com/brandforge/metering/internal/app/service/billing_log"
	"github.com/brandforge/metering/internal/app/service/plan"
	"github.com/brandforge/metering/internal/app/service/statistics"
	"github.com/brandforge/metering/internal/app/service/subscription"
	subscriptionlog "github.com/brandforge/metering/internal/app/service/subscription_log"
	"github.com/brandforge/metering/internal/platform/db"
	"github.com/brandforge/metering/internal/platform/stripegw"
	"github.com/brandforge/metering/internal/store/gormstore"
	"github.com/brandforge/metering/pkg/config"
	"github.com/brandforge/metering/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	gormstore.Module,
	plan.Module,
	subscription.Module,
	subscriptionlog.Module,
	billinglog.Module,
	billing.Module,
	stripegw.Module,
	statistics.Module,
	server.Module,
)
