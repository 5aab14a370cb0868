package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrInvalidQuestion = errors.New("invalid question")
var ErrNoQuestions = errors.New("no questions available")
