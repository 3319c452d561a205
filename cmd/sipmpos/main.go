package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"sipmpos/pkg/config"
	"sipmpos/pkg/fit"
	"sipmpos/pkg/geometry"
	"sipmpos/pkg/reconstruction"
	"sipmpos/pkg/simulator"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "sipmpos.yaml", "Path to the YAML configuration file")
	trials := flag.Int("trials", 0, "Override the number of Monte-Carlo trials")
	events := flag.Int("events", 0, "Override the number of emulated events")
	photons := flag.Float64("photons", 0, "Override the number of photons per event")
	method := flag.String("method", "", "Override the reconstruction method (cog, chi2, lnlike)")
	seed := flag.Uint64("seed", 0, "Override the random seed")
	workers := flag.Int("workers", 0, "Override the number of simulation workers")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *trials > 0 {
		cfg.Simulation.Trials = *trials
	}
	if *events > 0 {
		cfg.Reconstruction.Events = *events
	}
	if *photons > 0 {
		cfg.Reconstruction.PhotonsPerEvent = *photons
	}
	if *method != "" {
		cfg.Reconstruction.Method = *method
	}
	if *seed > 0 {
		cfg.Simulation.Seed = *seed
	}
	if *workers > 0 {
		cfg.Simulation.Workers = *workers
	}

	recMethod, err := reconstruction.ParseMethod(cfg.Reconstruction.Method)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	geo, err := cfg.BuildGeometry()
	if err != nil {
		log.Fatalf("Failed to build geometry: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("SIPM ACCEPTANCE SIMULATION AND SOURCE POSITION RECONSTRUCTION")
	fmt.Println("================================")
	fmt.Printf("Sensors: %d  Plane z = %.1f mm  Cylinder r = %.1f mm  Acceptance r = %.2f mm\n",
		geo.NumSensors(), geo.PlaneHeight(), geo.CylinderRadius(), geo.AcceptanceRadius())

	source := geometry.Vec3{
		X: cfg.Simulation.SourceX,
		Y: cfg.Simulation.SourceY,
		Z: cfg.Simulation.SourceZ,
	}

	// Step 1: Monte-Carlo acceptance computation
	fmt.Printf("Step 1: Simulating acceptance with %d photons from (%.1f, %.1f, %.1f)...\n",
		cfg.Simulation.Trials, source.X, source.Y, source.Z)
	sim := simulator.New(geo, source,
		simulator.WithWorkers(cfg.Simulation.Workers),
		simulator.WithSeed(cfg.Simulation.Seed))
	startTime := time.Now()
	if err := sim.Run(cfg.Simulation.Trials); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}
	fmt.Printf("Acceptance simulation completed in %.2f seconds\n", time.Since(startTime).Seconds())
	if cfg.Output.Verbose {
		sim.Print()
	}

	// Step 2: emulate events and reconstruct the source position
	fmt.Printf("Step 2: Emulating %d events with %.0f photons each, method %s...\n",
		cfg.Reconstruction.Events, cfg.Reconstruction.PhotonsPerEvent, recMethod)
	params := &reconstruction.Params{
		IntensityGuess: cfg.Reconstruction.IntensityGuess,
		IntensityMax:   cfg.Reconstruction.IntensityMax,
		XMin:           cfg.Reconstruction.XMin,
		XMax:           cfg.Reconstruction.XMax,
		YMin:           cfg.Reconstruction.YMin,
		YMax:           cfg.Reconstruction.YMax,
		Seed:           cfg.Simulation.Seed,
		Verbose:        cfg.Output.Verbose,
	}
	rec, err := reconstruction.New(sim.Geometry(), params, &fit.NelderMead{})
	if err != nil {
		log.Fatalf("Failed to set up reconstruction: %v", err)
	}

	startTime = time.Now()
	records, err := rec.EmulateEvents(cfg.Reconstruction.PhotonsPerEvent, cfg.Reconstruction.Events, recMethod, nil)
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	fmt.Printf("Reconstruction completed in %.2f seconds\n", time.Since(startTime).Seconds())

	// Step 3: batch summary
	summary := reconstruction.Summarize(records)
	fmt.Println("\nReconstruction summary:")
	fmt.Println("=======================")
	fmt.Printf("Converged events: %d / %d\n", summary.Converged, len(records))
	fmt.Printf("Failed events:    %d\n", summary.Failed)
	if summary.Converged > 0 {
		fmt.Printf("<x> = %8.3f mm  rms = %6.3f mm\n", summary.MeanX, summary.StdX)
		fmt.Printf("<y> = %8.3f mm  rms = %6.3f mm\n", summary.MeanY, summary.StdY)
		if recMethod != reconstruction.Centroid {
			fmt.Printf("<I> = %10.1f photons  rms = %8.1f\n", summary.MeanIntensity, summary.StdIntensity)
		}
	}
}
