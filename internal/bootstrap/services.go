package bootstrap

import (
	"rover/internal/devices/allocator"
	deviceshandler "rover/internal/devices/handler"
	devicesrepo "rover/internal/devices/repository"
	devicesservice "rover/internal/devices/service"
	devicesvalidator "rover/internal/devices/validator"
	extensionshandler "rover/internal/extensions/handler"
	extensionsrepo "rover/internal/extensions/repository"
	extensionsservice "rover/internal/extensions/service"
	extensionsvalidator "rover/internal/extensions/validator"
	paymentshandler "rover/internal/payments/handler"
	paymentsrepo "rover/internal/payments/repository"
	paymentsservice "rover/internal/payments/service"
	paymentsvalidator "rover/internal/payments/validator"
	rentalshandler "rover/internal/rentals/handler"
	rentalsrepo "rover/internal/rentals/repository"
	rentalsservice "rover/internal/rentals/service"
	rentalsvalidator "rover/internal/rentals/validator"
	returnshandler "rover/internal/returns/handler"
	returnsrepo "rover/internal/returns/repository"
	returnsservice "rover/internal/returns/service"
	returnsvalidator "rover/internal/returns/validator"
	"rover/internal/sweepers"
	usagerepo "rover/internal/usage/repository"
	usage "rover/internal/usage/service"
	"rover/pkg/clock"
	"rover/pkg/config"
	"rover/pkg/contracts"
	mongotx "rover/pkg/db/mongo"
)

type Repositories struct {
	Devices    devicesrepo.DeviceRepository
	Sessions   usagerepo.SessionRepository
	Rentals    rentalsrepo.RentalRepository
	Extensions extensionsrepo.ExtensionRepository
	Payments   paymentsrepo.PaymentRepository
	Returns    returnsrepo.ReturnRepository
}

func NewMongoRepositories(cfg *config.Config) Repositories {
	return Repositories{
		Devices:    devicesrepo.NewMongoDeviceRepository(cfg),
		Sessions:   usagerepo.NewMongoSessionRepository(cfg),
		Rentals:    rentalsrepo.NewMongoRentalRepository(cfg),
		Extensions: extensionsrepo.NewMongoExtensionRepository(cfg),
		Payments:   paymentsrepo.NewMongoPaymentRepository(cfg),
		Returns:    returnsrepo.NewMongoReturnRepository(cfg),
	}
}

// Services is the fully wired engine.
type Services struct {
	Repos     Repositories
	Tx        mongotx.TransactionManager
	Allocator *allocator.Allocator
	Tracker   *usage.Tracker

	Devices    devicesservice.DeviceService
	Rentals    rentalsservice.RentalService
	Extensions extensionsservice.ExtensionService
	Payments   paymentsservice.PaymentService
	Returns    returnsservice.ReturnService

	cfg     *config.Config
	clock   clock.Clock
	outputs *Outputs
}

func NewServices(cfg *config.Config, repos Repositories, tx mongotx.TransactionManager, clk clock.Clock, out *Outputs) *Services {
	log := cfg.Log
	alloc := allocator.New(repos.Devices, clk, cfg.ReservationTTL, log.Component("allocator"))
	tracker := usage.NewTracker(repos.Sessions, repos.Devices, tx, usage.Limits{
		Daily:        cfg.DailyUsageLimit,
		FirstSession: cfg.FirstSessionLimit,
		Cooldown:     cfg.SessionCooldown,
	}, cfg.Location, log.Component("usage"))

	rentals := rentalsservice.NewRentalService(repos.Rentals, repos.Payments, repos.Devices, alloc, tracker,
		out.Commands, tx, rentalsvalidator.NewRentalValidator(log), clk, cfg)
	extensions := extensionsservice.NewExtensionService(repos.Extensions, repos.Rentals, repos.Payments, tx,
		extensionsvalidator.NewExtensionValidator(log), clk, cfg)

	return &Services{
		Repos:     repos,
		Tx:        tx,
		Allocator: alloc,
		Tracker:   tracker,

		Devices: devicesservice.NewDeviceService(repos.Devices, repos.Rentals, tracker, out.Commands, tx,
			devicesvalidator.NewDeviceValidator(log), clk, cfg),
		Rentals:    rentals,
		Extensions: extensions,
		Payments: paymentsservice.NewPaymentService(repos.Payments, repos.Rentals, repos.Extensions,
			rentals, extensions, out.Notifier, tx, paymentsvalidator.NewPaymentValidator(log), clk, cfg),
		Returns: returnsservice.NewReturnService(repos.Returns, tx, returnsvalidator.NewReturnValidator(log), clk, cfg),

		cfg:     cfg,
		clock:   clk,
		outputs: out,
	}
}

// Handlers are the HTTP surfaces of the engine.
func (s *Services) Handlers() []contracts.Handler {
	log := s.cfg.Log
	return []contracts.Handler{
		deviceshandler.NewDeviceHandler(s.Devices, log),
		rentalshandler.NewRentalHandler(s.Rentals, log),
		extensionshandler.NewExtensionHandler(s.Extensions, log),
		paymentshandler.NewPaymentHandler(s.Payments, log),
		returnshandler.NewReturnHandler(s.Returns, log),
	}
}

// Sweepers are the periodic jobs, in the order they should run.
func (s *Services) Sweepers() []sweepers.Sweeper {
	cfg, repos := s.cfg, s.Repos
	log := cfg.Log.Component("sweepers")
	return []sweepers.Sweeper{
		sweepers.NewReservationSweeper(repos.Rentals, repos.Payments, s.Allocator, s.Tx, s.outputs.Notifier,
			s.clock, cfg.ReservationSweepInterval, log),
		sweepers.NewExtensionSweeper(repos.Extensions, repos.Payments, repos.Rentals, s.Tx, s.outputs.Notifier,
			s.clock, cfg.ExtensionPaymentWindow, cfg.ExtensionSweepInterval, log),
		sweepers.NewEndOfTermSweeper(repos.Rentals, repos.Returns, s.Tx, s.outputs.Notifier,
			s.clock, cfg.AlmostEndWindow, cfg.EndOfTermSweepInterval, log),
		sweepers.NewOveruseSweeper(repos.Devices, s.Tracker, s.outputs.Commands, s.Tx,
			s.clock, cfg.OveruseSweepInterval, log),
	}
}
