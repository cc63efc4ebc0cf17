// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parallel

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

const chanSize = 1024

// Parallel runs nJobs jobs on nWorkers workers. The first failed job cancels
// the jobs not yet started and its error is returned. With a single worker,
// jobs run in order on the calling goroutine.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := worker(0, i); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := make(chan int, min(nJobs, chanSize))
	// producer
	go func() {
		defer close(c)
		for i := 0; i < nJobs; i++ {
			select {
			case <-ctx.Done():
				return
			case c <- i:
			}
		}
	}()
	// consumer
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		firstJob = nJobs
	)
	for j := 0; j < nWorkers; j++ {
		workerId := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jobId := range c {
				if ctx.Err() != nil {
					continue
				}
				if err := worker(workerId, jobId); err != nil {
					mu.Lock()
					// report the failure of the earliest job
					if jobId < firstJob {
						firstErr, firstJob = err, jobId
					}
					mu.Unlock()
					cancel()
				}
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return errors.Trace(firstErr)
	}
	return errors.Trace(ctx.Err())
}

// Map runs jobs in parallel and collects their results in job order.
func Map[T any](ctx context.Context, nJobs, nWorkers int, job func(jobId int) (T, error)) ([]T, error) {
	results := make([]T, nJobs)
	err := Parallel(ctx, nJobs, nWorkers, func(_, jobId int) error {
		result, err := job(jobId)
		if err != nil {
			return err
		}
		results[jobId] = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
