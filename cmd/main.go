// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/mescore-dev/mescore/internal/collector"
	"github.com/mescore-dev/mescore/internal/conf"
	"github.com/mescore-dev/mescore/internal/db"
	"github.com/mescore-dev/mescore/internal/ems"
	"github.com/mescore-dev/mescore/internal/monitoring"
	"github.com/mescore-dev/mescore/internal/mqtt"
	"github.com/mescore-dev/mescore/internal/production"
	"github.com/mescore-dev/mescore/internal/scheduling"
	"github.com/mescore-dev/mescore/internal/shopcal"
)

// Run the prometheus metrics server for monitoring.
func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics listening", "port", config.Port)
	addr := fmt.Sprintf(":%d", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

// Run the given task now and then on every tick until shutdown.
func runPeriodic(ctx context.Context, interval time.Duration, run func()) {
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		// If called with `--version`, report version and exit (the Dockerfile
		// uses this to check if the binary was built correctly)
		bininfo.HandleVersionArgument()
	}

	config := conf.GetConfigOrDie()
	config.LoggingConfig.SetDefaultLogger()

	// Set runtime concurrency to match the container's CPU quota.
	undoMaxprocs, err := maxprocs.Set(maxprocs.Logger(slog.Debug))
	if err != nil {
		panic(err)
	}
	defer undoMaxprocs()

	// This context will gracefully shutdown when the process receives the
	// standard shutdown signal SIGINT, with a 10-second delay so load
	// balancers stop sending new requests well before the process exits.
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	registry := monitoring.NewRegistry(config.MonitoringConfig)
	database := db.NewPostgresDB(config.DBConfig, db.NewDBMonitor(registry))
	defer database.Close()

	db.NewMigrater(database).Migrate()
	scheduling.AddTables(database)
	production.AddTables(database)
	ems.AddTables(database)

	// Which services to run in this process. With no arguments all of them
	// run together; a deployment can split them across processes by passing
	// task names.
	tasks := map[string]bool{}
	var oeeSince time.Time
	for _, arg := range args {
		if value, ok := strings.CutPrefix(arg, "--since="); ok {
			since, err := time.Parse(time.RFC3339, value)
			if err != nil {
				slog.Error("invalid --since timestamp", "value", value, "error", err)
				os.Exit(1)
			}
			oeeSince = since
			continue
		}
		tasks[arg] = true
	}
	if tasks["migrate"] {
		slog.Info("migrations applied")
		return
	}
	all := len(tasks) == 0
	known := map[string]bool{
		"scheduler": true, "rescheduler": true, "collector": true,
		"oee": true, "pdc": true,
	}
	for task := range tasks {
		if !known[task] {
			slog.Error("unknown task", "task", task)
			os.Exit(1)
		}
	}

	go runMonitoringServer(ctx, registry, config.MonitoringConfig)

	mqttClient := mqtt.NewClient(config.MQTTConfig, mqtt.NewMQTTMonitor(registry))
	if err := mqttClient.Connect(); err != nil {
		panic("failed to connect to mqtt broker: " + err.Error())
	}
	defer mqttClient.Disconnect()

	clock := shopcal.Clock{
		ShiftStartHour: config.SchedulerConfig.ShiftStartHour,
		ShiftEndHour:   config.SchedulerConfig.ShiftEndHour,
	}
	schedulingMonitor := scheduling.NewSchedulingMonitor(registry)
	productionMonitor := production.NewProductionMonitor(registry)

	summaryEngine := &production.SummaryEngine{
		DB:      database,
		Config:  config.OEEConfig,
		Monitor: productionMonitor,
		MQTT:    mqttClient,
	}
	statusEngine := &production.StatusEngine{
		DB:      database,
		Monitor: productionMonitor,
		Summary: summaryEngine,
		MQTT:    mqttClient,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if all || tasks["scheduler"] {
		batch := &scheduling.BatchScheduler{
			DB:      database,
			Clock:   clock,
			Config:  config.SchedulerConfig,
			Monitor: schedulingMonitor,
			MQTT:    mqttClient,
		}
		generate := func() {
			if _, err := batch.Run(ctx); err != nil {
				slog.Error("batch scheduling failed", "error", err)
			}
		}
		err := mqttClient.Subscribe(mqtt.CommandGenerateSchedule,
			func(_ pahomqtt.Client, _ pahomqtt.Message) { generate() })
		if err != nil {
			panic("failed to subscribe: " + err.Error())
		}
	}

	if all || tasks["rescheduler"] {
		rescheduler := &scheduling.Rescheduler{
			DB:           database,
			Clock:        clock,
			Config:       config.SchedulerConfig,
			Monitor:      schedulingMonitor,
			Availability: statusEngine,
			MQTT:         mqttClient,
		}
		revise := func() {
			diagnostics, err := rescheduler.Run(ctx)
			if err != nil {
				slog.Error("rescheduling failed", "error", err)
				return
			}
			for _, d := range diagnostics {
				slog.Warn("rescheduling notice", "notice", d)
			}
		}
		err := mqttClient.Subscribe(mqtt.CommandReviseSchedule,
			func(_ pahomqtt.Client, _ pahomqtt.Message) { revise() })
		if err != nil {
			panic("failed to subscribe: " + err.Error())
		}
		go runPeriodic(ctx, 5*time.Minute, revise)
	}

	if all || tasks["collector"] {
		collectorConfig := config.CollectorConfig
		collectorMonitor := collector.NewCollectorMonitor(registry)
		interval := time.Duration(collectorConfig.PollIntervalSeconds) * time.Second
		readTimeout := time.Duration(collectorConfig.ReadTimeoutSeconds) * time.Second
		backoff := time.Duration(collectorConfig.ReconnectBackoffSeconds) * time.Second

		startPoller := func(device collector.Device) {
			poller := &collector.Poller{
				Device:      device,
				Engine:      statusEngine,
				Interval:    interval,
				ReadTimeout: readTimeout,
				Backoff:     backoff,
				Monitor:     collectorMonitor,
			}
			go poller.Run(ctx)
		}
		for _, deviceConfig := range collectorConfig.OPCUA {
			startPoller(&collector.OPCUADevice{Config: deviceConfig})
		}
		for _, deviceConfig := range collectorConfig.LSV2 {
			startPoller(&collector.LSV2Device{Config: deviceConfig})
		}
		if collectorConfig.Modbus.Device != "" {
			bus := &collector.EnergyBus{
				Bus:         collectorConfig.Modbus,
				Interval:    time.Duration(collectorConfig.EnergyPollIntervalSeconds) * time.Second,
				ReadTimeout: readTimeout,
				Backoff:     backoff,
				Status:      statusEngine,
				EMS:         &ems.Engine{DB: database, Monitor: ems.NewEMSMonitor(registry)},
				Monitor:     collectorMonitor,
			}
			go bus.Run(ctx)
		}
	}

	if all || tasks["oee"] {
		// One reconciliation over the requested range at startup, then a
		// periodic pass over the current shift of every known machine.
		go func() {
			if err := summaryEngine.Reconcile(oeeSince, time.Now()); err != nil {
				slog.Error("oee reconciliation failed", "error", err)
			}
			runPeriodic(ctx, 15*time.Minute, func() {
				if err := summaryEngine.Reconcile(time.Time{}, time.Now()); err != nil {
					slog.Error("oee reconciliation failed", "error", err)
				}
			})
		}()
	}

	if all || tasks["pdc"] {
		projector := &scheduling.PDCProjector{
			DB:      database,
			Cache:   &scheduling.PDCCache{TTL: time.Minute},
			Monitor: schedulingMonitor,
		}
		go runPeriodic(ctx, 5*time.Minute, func() {
			rows, err := projector.Project(ctx)
			if err != nil {
				slog.Error("pdc projection failed", "error", err)
				return
			}
			mqttClient.Publish(mqtt.TriggerPDCProjected, rows)
		})
	}

	// Run the api server after all other tasks have been started and
	// all http handlers have been registered to the mux.
	addr := fmt.Sprintf(":%d", config.APIConfig.Port)
	slog.Info("api listening", "port", config.APIConfig.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}
