package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/database"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/server"
)

func main() {
	app := &cli.App{
		Name:  "mailsweep",
		Usage: "bulk inbox triage across Gmail, Outlook and Yahoo",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: runMigrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: runServer,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runMigrate(_ *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(cfg.DatabaseConfig)
	if err != nil {
		return err
	}

	if err := repository.MigrateDB(db); err != nil {
		return err
	}
	log.Println("Database migration completed successfully")
	return nil
}

func runServer(_ *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(cfg.DatabaseConfig)
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("MailSweep starting up...")

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return err
	}

	if err := srv.Run(); err != nil {
		return err
	}
	log.Println("Shutdown complete")
	return nil
}
