package dialogue

import (
	"fmt"
	"strings"

	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/submission"
)

// Button labels. A pressed button comes back with its label as data.
const (
	OptionContinue = "Continuar"
	OptionModify   = "Modificar"
	OptionSend     = "Enviar"
	OptionDiscard  = "Borrar"
)

// Emoji used in replies.
const (
	emojiOK   = "👍"
	emojiHand = "👉"
)

const (
	msgInstructions = "A continuación, te preguntaré primero por el título, luego por la descripción, " +
		"y por último por las etiquetas. En cada paso te preguntaré si quieres continuar o modificar"
	msgBusy        = "Ya hay un audio en curso. Termínalo o usa /cancelar antes de enviar otro"
	msgNothingOpen = "No hay ningún audio en curso"
	msgTranscoded  = "Convertido a mp3"
	msgUploaded    = "Subido a Internet Archive!"
	msgFileRemoved = "Archivo borrado"
	msgDeleted     = "Audio borrado"
)

// question is one free-text field of the dialogue: the step that asks for
// it and the step that asks to confirm it.
type question struct {
	ask     models.Step
	confirm models.Step
	field   submission.Field
	prompt  string
	label   string
}

// questions are asked in order; confirming the last one leads to the
// final summary.
var questions = []question{
	{
		ask:     models.StepAwaitingTitle,
		confirm: models.StepAwaitingTitleConfirm,
		field:   submission.FieldTitle,
		prompt:  "Dime el título",
		label:   "Título",
	},
	{
		ask:     models.StepAwaitingDescription,
		confirm: models.StepAwaitingDescriptionConfirm,
		field:   submission.FieldDescription,
		prompt:  "Dime la descripción",
		label:   "Descripción",
	},
	{
		ask:     models.StepAwaitingTags,
		confirm: models.StepAwaitingTagsConfirm,
		field:   submission.FieldTags,
		prompt:  "Dime las etiquetas separadas por comas",
		label:   "Etiquetas",
	},
}

func askingAt(step models.Step) (int, bool) {
	for i, q := range questions {
		if q.ask == step {
			return i, true
		}
	}
	return 0, false
}

func confirmingAt(step models.Step) (int, bool) {
	for i, q := range questions {
		if q.confirm == step {
			return i, true
		}
	}
	return 0, false
}

// answerText renders the stored value of q's field for the confirm prompt.
func answerText(q question, rec *models.Submission) string {
	return fmt.Sprintf("%s: %s", q.label, fieldValue(q.field, rec))
}

func fieldValue(f submission.Field, rec *models.Submission) string {
	switch f {
	case submission.FieldTitle:
		return rec.Title
	case submission.FieldDescription:
		return rec.Description
	case submission.FieldTags:
		return strings.Join(rec.TagList(), ", ")
	}
	return ""
}

// summary renders the three free-text fields before the final choice.
func summary(rec *models.Submission) string {
	var b strings.Builder
	b.WriteString("El audio queda así:")
	for _, q := range questions {
		b.WriteString("\n")
		b.WriteString(answerText(q, rec))
	}
	return b.String()
}

func helpText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "`/ayuda` %s muestra esta ayuda\n", emojiHand)
	fmt.Fprintf(&b, "`/estado` %s muestra el audio en curso\n", emojiHand)
	fmt.Fprintf(&b, "`/cancelar` %s descarta el audio en curso\n", emojiHand)
	return b.String()
}

func statusText(st models.Step, rec *models.Submission) string {
	return fmt.Sprintf("Paso: %s\n%s", st, strings.TrimPrefix(summary(rec), "El audio queda así:\n"))
}
