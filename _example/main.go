package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hupe1980/chamfer"
	"github.com/hupe1980/chamfer/compute"
	"github.com/hupe1980/chamfer/testutil"
)

func main() {
	seed := int64(4711)
	batch := 4
	n := 2048
	m := 1536
	steps := 5
	lr := float32(0.05)

	ctx := context.Background()

	rng := testutil.NewRNG(seed)
	predicted := rng.ClusteredSet(batch, n, 8, 0.3)
	reference := rng.ClusteredSet(batch, m, 8, 0.1)

	fmt.Println("--- Forward ---")
	fmt.Println("Batch:", batch)
	fmt.Println("Points:", n, "vs", m)

	serialBackend := compute.NewSerial()
	serial, err := chamfer.New(chamfer.WithBackend(serialBackend))
	if err != nil {
		log.Fatal(err)
	}
	defer serial.Close()

	start := time.Now()

	match, err := serial.Forward(ctx, predicted, reference)
	if err != nil {
		log.Fatal(err)
	}
	loss, err := serial.Loss(ctx, match)
	if err != nil {
		log.Fatal(err)
	}

	end := time.Since(start)

	fmt.Printf("Backend: %s, Loss: %.4f\n", serial.Backend(), loss)
	fmt.Printf("Seconds: %.4f\n\n", end.Seconds())

	parallelBackend := compute.NewParallel()
	defer parallelBackend.Close()

	parallel, err := chamfer.New(chamfer.WithBackend(parallelBackend))
	if err != nil {
		log.Fatal(err)
	}
	defer parallel.Close()

	start = time.Now()

	match, err = parallel.Forward(ctx, predicted, reference)
	if err != nil {
		log.Fatal(err)
	}
	loss, err = parallel.Loss(ctx, match)
	if err != nil {
		log.Fatal(err)
	}

	end = time.Since(start)

	fmt.Printf("Backend: %s, Loss: %.4f\n", parallel.Backend(), loss)
	fmt.Printf("Seconds: %.4f\n\n", end.Seconds())

	fmt.Println("--- Descent ---")

	start = time.Now()

	for i := 0; i < steps; i++ {
		result, err := parallel.Step(predicted, reference).
			Reduction(chamfer.ReductionMean).
			Execute(ctx)
		if err != nil {
			log.Fatal(err)
		}

		data := predicted.Data()
		grad := result.Gradients.GradA.Data()
		for j := range data {
			data[j] -= lr * grad[j]
		}

		fmt.Printf("Step %d, Loss: %.6f\n", i, result.Loss)
	}

	end = time.Since(start)

	fmt.Printf("Seconds: %.4f\n", end.Seconds())
}
