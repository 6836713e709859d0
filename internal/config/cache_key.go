package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// AttemptAnswersKey returns the cache key for an attempt's in-progress answers
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// ExamPayloadKey returns the cache key for an exam's question payload
func (r *CacheKeyStruct) ExamPayloadKey(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

var CacheKey = NewCacheKeyStruct()
