package main

import (
	"rover/internal/bootstrap"
	"rover/pkg/app"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
)

const ServiceName = "rentals"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting Rentals service")
	outputs, err := bootstrap.NewOutputs(cfg, ServiceName)
	if err != nil {
		cfg.Log.Fatal("Failed to set up outbound channels", "error", err)
	}

	services := bootstrap.NewServices(
		cfg,
		bootstrap.NewMongoRepositories(cfg),
		mongotx.NewTransactionManager(cfg.Client.Mongo),
		clock.Real(),
		outputs,
	)
	cfg.Log.Info("Rental services initialized", "database", cfg.MongoDatabaseName)

	checks := append([]app.Check{app.MongoCheck(cfg.Client.Mongo)}, outputs.Checks()...)
	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(checks, services.Handlers()...)
	serverApp.OnShutdown(func() { outputs.Close(cfg) })
	serverApp.Run()
}
