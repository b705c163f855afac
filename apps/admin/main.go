package main

import (
	"context"
	"os"
	"time"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/ledger"
	logsvc "github.com/trezcool/atelier/services/logger"
	"github.com/trezcool/atelier/storage/database"
	sqlxrepos "github.com/trezcool/atelier/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewLogrus(conf).WithField("app", "admin")

	// set up DB
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.Open(ctx, conf)
	cancel()
	if err != nil {
		logger.Fatal(err)
	}

	// start CLI
	cli := commandLine{
		conf:    conf,
		db:      db.DB,
		usrRepo: sqlxrepos.NewUserRepository(db),
		ledger:  ledger.NewService(sqlxrepos.NewLedgerRepository(db), sqlxrepos.NewTransactor(db)),
		out:     os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Errorf("error: %s", err)
		}
		os.Exit(1)
	}
}
