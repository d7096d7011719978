package hbl

import "sync"

//Task is a unit of work executed by a Pool.
type Task interface {
	Execute()
}

//Pool runs tasks on a fixed number of goroutines. Tasks must write to disjoint memory.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
}

//NewPool starts threadsNum workers.
func NewPool(threadsNum int) *Pool {
	if threadsNum < 1 {
		threadsNum = 1
	}
	pool := &Pool{tasks: make(chan Task, threadsNum)}
	pool.wg.Add(threadsNum)
	for w := 0; w < threadsNum; w++ {
		go func() {
			defer pool.wg.Done()
			for task := range pool.tasks {
				task.Execute()
			}
		}()
	}
	return pool
}

//AddTask schedules a task. It blocks while all workers are busy.
func (pool *Pool) AddTask(task Task) {
	pool.tasks <- task
}

//Close signals that no more tasks will be added.
func (pool *Pool) Close() {
	close(pool.tasks)
}

//WaitAll blocks until every added task has finished. Close must be called first.
func (pool *Pool) WaitAll() {
	pool.wg.Wait()
}

//TaskBuildHistogram fills the histogram of one feature.
type TaskBuildHistogram struct {
	result  []Histogram
	feature int
	build   func(feature int) Histogram
}

func (task *TaskBuildHistogram) Execute() {
	task.result[task.feature] = task.build(task.feature)
}

//TaskFindBestSplit searches the best split of one feature.
type TaskFindBestSplit struct {
	result  []SplitInfo
	feature int
	find    func(feature int) SplitInfo
}

func (task *TaskFindBestSplit) Execute() {
	task.result[task.feature] = task.find(task.feature)
}

//TaskPredictRange predicts a contiguous range of samples.
type TaskPredictRange struct {
	rng     *Range
	predict func(p int)
}

func (task *TaskPredictRange) Execute() {
	for task.rng.HasNext() {
		task.predict(task.rng.GetNext())
	}
}

//runPerFeature executes the task of every feature, in parallel when threadsNum > 1.
func runPerFeature(threadsNum, nFeatures int, newTask func(feature int) Task) {
	if threadsNum <= 1 || nFeatures <= 1 {
		for q := 0; q < nFeatures; q++ {
			newTask(q).Execute()
		}
		return
	}
	taskPool := NewPool(threadsNum)
	for q := 0; q < nFeatures; q++ {
		taskPool.AddTask(newTask(q))
	}
	taskPool.Close()
	taskPool.WaitAll()
}
