// Command tokenitis-inspect prints the registry custodian address or the
// decoded state of a ledger account.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mr-tron/base58"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	pgutil "github.com/code-payments/tokenitis-server/pkg/database/postgres"
	"github.com/code-payments/tokenitis-server/pkg/ledger"
	postgres_ledger "github.com/code-payments/tokenitis-server/pkg/ledger/postgres"
	"github.com/code-payments/tokenitis-server/pkg/metrics"
	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/tokenitis"
)

var (
	configPath = flag.String("config", "config.yaml", "path to an optional config file")
	address    = flag.String("address", "", "base58 address of the ledger account to describe")
	custodian  = flag.Bool("custodian", false, "print the registry custodian address and exit")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	conf, err := loadConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, "error loading config")
	}

	ctx := context.Background()

	var metricsProvider *newrelic.Application
	if len(conf.NewRelicLicenseKey) > 0 {
		nr, err := newrelic.NewApplication(
			newrelic.ConfigFromEnvironment(),
			newrelic.ConfigAppName(conf.AppName),
			newrelic.ConfigLicense(conf.NewRelicLicenseKey),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			return errors.Wrap(err, "error connecting to new relic")
		}
		defer nr.Shutdown(5 * time.Second)

		metricsProvider = nr
		ctx = metrics.NewContext(ctx, nr)
	}

	configureLogger(conf, metricsProvider)

	log := logrus.StandardLogger().WithField("method", "run")

	if *custodian {
		key, bump, err := tokenitis.GetCustodianAddress(tokenitis.PROGRAM_ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s (bump %d)\n", base58.Encode(key), bump)
		return nil
	}

	if _, err := solana.PublicKeyFromString(*address); err != nil {
		return errors.Wrapf(err, "invalid -address %q", *address)
	}

	db, err := pgutil.NewFromConfig(conf.dbConfig())
	if err != nil {
		log.WithError(err).Warn("failure connecting to database")
		return err
	}
	defer db.Close()

	store := postgres_ledger.New(db)

	account, err := store.Get(ctx, *address)
	if err == ledger.ErrAccountNotFound {
		return errors.Wrapf(err, "account %s does not exist", *address)
	} else if err != nil {
		log.WithError(err).WithField("address", *address).Warn("failure loading account")
		return err
	}

	return describeAccount(os.Stdout, account)
}
