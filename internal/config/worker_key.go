package config

type WorkerKeyStruct struct {
	PersistWarningsQueue string
	PersistAnswersQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistWarningsQueue: "persist_warnings_queue",
	PersistAnswersQueue:  "persist_answers_queue",
}
