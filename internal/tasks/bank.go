// Package tasks holds the practice task bank offered by /gettask.
package tasks

import (
	"math/rand"
	"strings"
)

// MaxCallbackData is the Telegram limit for inline button payloads
const MaxCallbackData = 64

// Subject is one school subject
type Subject struct {
	Key  string
	Name string
}

// Entry is one task row of an imported bank
type Entry struct {
	Subject     string
	SubjectName string
	Topic       string
	Task        string
}

// Bank maps subject -> topic -> tasks, keeping the insertion order of
// subjects and topics for menus
type Bank struct {
	subjects []Subject
	topics   map[string][]string
	tasks    map[string]map[string][]string
	pick     func(n int) int
}

// DefaultSubjects are offered by /subject
var DefaultSubjects = []Subject{
	{Key: "math", Name: "Математика"},
	{Key: "english", Name: "Английский"},
	{Key: "history", Name: "История"},
	{Key: "literature", Name: "Литература"},
}

var defaultEntries = []Entry{
	{Subject: "math", Topic: "algebra", Task: "Решите уравнение: 2x + 5 = 17"},
	{Subject: "math", Topic: "algebra", Task: "Найдите корни квадратного уравнения: x^2 - 5x + 6 = 0"},
	{Subject: "math", Topic: "geometry", Task: "В треугольнике ABC угол A=60°, B=70°. Найдите C."},
	{Subject: "math", Topic: "geometry", Task: "Найдите площадь круга радиуса 5."},
	{Subject: "english", Topic: "grammar", Task: "Сделайте предложение в Past Simple: I (to go) to the store yesterday."},
	{Subject: "english", Topic: "grammar", Task: "Употребите Present Perfect в предложении на тему 'travel'."},
	{Subject: "english", Topic: "vocabulary", Task: "Дай 10 слов по теме 'school' с переводом."},
	{Subject: "english", Topic: "vocabulary", Task: "Составь 5 предложений с глаголом 'to improve'."},
	{Subject: "history", Topic: "middle_ages", Task: "Опишите причины начала Столетней войны."},
	{Subject: "history", Topic: "middle_ages", Task: "Кто такой Чингисхан? Кратко опишите."},
	{Subject: "literature", Topic: "poetry", Task: "Проанализируй стихотворение (пример): 'Стих' — какие образы в нём используются?"},
}

// Default returns the built-in bank
func Default() *Bank {
	return New(DefaultSubjects, defaultEntries)
}

// New builds a bank. subjects fixes the menu order and names; subjects
// that only appear in entries are appended after them.
func New(subjects []Subject, entries []Entry) *Bank {
	b := &Bank{
		topics: make(map[string][]string),
		tasks:  make(map[string]map[string][]string),
		pick:   rand.Intn,
	}
	for _, s := range subjects {
		b.addSubject(s.Key, s.Name)
	}

	for _, e := range entries {
		subj, topic := SubjectKey(e.Subject), NormalizeKey(e.Topic)
		if subj == "" || topic == "" || strings.TrimSpace(e.Task) == "" {
			continue
		}
		if !FitsCallback(subj, topic) {
			continue
		}
		b.addSubject(subj, e.SubjectName)

		if _, ok := b.tasks[subj][topic]; !ok {
			b.topics[subj] = append(b.topics[subj], topic)
		}
		b.tasks[subj][topic] = append(b.tasks[subj][topic], strings.TrimSpace(e.Task))
	}
	return b
}

func (b *Bank) addSubject(key, name string) {
	key = SubjectKey(key)
	if _, ok := b.tasks[key]; ok {
		return
	}
	if name == "" {
		name = key
	}
	b.subjects = append(b.subjects, Subject{Key: key, Name: name})
	b.tasks[key] = make(map[string][]string)
}

// NormalizeKey lowercases k and replaces blanks with underscores
func NormalizeKey(k string) string {
	return strings.Join(strings.Fields(strings.ToLower(k)), "_")
}

// SubjectKey is NormalizeKey without underscores, so that callback
// payloads of the form <prefix>_<subject>_<topic> split unambiguously
func SubjectKey(k string) string {
	return strings.ReplaceAll(NormalizeKey(k), "_", "")
}

// FitsCallback reports whether the longest payload built from subject and
// topic stays within MaxCallbackData
func FitsCallback(subject, topic string) bool {
	return len("tasktopic_")+len(subject)+1+len(topic) <= MaxCallbackData
}

// Subjects lists subjects in menu order
func (b *Bank) Subjects() []Subject {
	out := make([]Subject, len(b.subjects))
	copy(out, b.subjects)
	return out
}

// SubjectName returns the display name of key
func (b *Bank) SubjectName(key string) (string, bool) {
	for _, s := range b.subjects {
		if s.Key == key {
			return s.Name, true
		}
	}
	return "", false
}

// Topics lists the topics of subject in insertion order
func (b *Bank) Topics(subject string) []string {
	out := make([]string, len(b.topics[subject]))
	copy(out, b.topics[subject])
	return out
}

// Random picks one task of subject/topic
func (b *Bank) Random(subject, topic string) (string, bool) {
	list := b.tasks[subject][topic]
	if len(list) == 0 {
		return "", false
	}
	return list[b.pick(len(list))], true
}

// Size returns the number of tasks in the bank
func (b *Bank) Size() int {
	n := 0
	for _, topics := range b.tasks {
		for _, list := range topics {
			n += len(list)
		}
	}
	return n
}
