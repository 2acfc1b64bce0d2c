package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"movierec/internal/model"
	"movierec/internal/ratings"
)

func main() {
	var (
		count      int
		maxRatings int
		outputFile string
		eventsFile string
		events     int
		seed       int64
	)
	flag.IntVar(&count, "count", 100, "number of movies to generate")
	flag.IntVar(&maxRatings, "max-ratings", 20, "max rating events per movie")
	flag.StringVar(&outputFile, "output", "movies.jsonl", "movie document output file")
	flag.StringVar(&eventsFile, "events-output", "", "optional rating event output file for ratingsd -input-source=file")
	flag.IntVar(&events, "events", 1000, "number of rating events for -events-output")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(seed))
	if err := generateMovies(rng, count, maxRatings, outputFile); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
	if eventsFile != "" && count > 0 {
		if err := generateEvents(rng, count, events, eventsFile); err != nil {
			log.Fatalf("generation failed: %v", err)
		}
	}
}

var titles = []string{"Dinosaur Planet", "Isle of Man TT 2004 Review", "Character", "Paula Abdul's Get Up & Dance", "The Rise and Fall of ECW"}

func randomWatched(rng *rand.Rand, base time.Time) model.WatchedRated {
	return model.WatchedRated{
		CustomerID: fmt.Sprintf("%d", 1+rng.Intn(500000)),
		Rating:     1 + rng.Intn(5),
		Date:       base.AddDate(0, 0, -rng.Intn(2000)).Format("2006-01-02"),
	}
}

func generateMovies(rng *rand.Rand, count, maxRatings int, outputFile string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	base := time.Date(2005, 12, 31, 0, 0, 0, 0, time.UTC)
	enc := json.NewEncoder(file)
	for i := 0; i < count; i++ {
		m := model.NewMovieWithYear(fmt.Sprintf("%d", i+1), int64(1950+rng.Intn(56)), titles[rng.Intn(len(titles))])
		n := rng.Intn(maxRatings + 1)
		for j := 0; j < n; j++ {
			w := randomWatched(rng, base)
			w.Key = j
			m.Add(w)
		}
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode movie %d: %w", i+1, err)
		}
	}

	log.Printf("generated %d movies to %s", count, outputFile)
	return nil
}

func generateEvents(rng *rand.Rand, movies, count int, outputFile string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	base := time.Now().UTC()
	enc := json.NewEncoder(file)
	for i := 0; i < count; i++ {
		ev := ratings.Event{
			MovieID: fmt.Sprintf("%d", 1+rng.Intn(movies)),
			Seq:     int64(i + 1),
			Watched: randomWatched(rng, base),
		}
		ev.Watched.Key = i
		if err := enc.Encode(&ev); err != nil {
			return fmt.Errorf("encode event %d: %w", i+1, err)
		}
	}
	log.Printf("generated %d rating events to %s", count, outputFile)
	return nil
}
