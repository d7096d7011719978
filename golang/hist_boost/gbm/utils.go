package gbm

import "log"

//HandleError stops the program on an unrecoverable error.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}
