package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Veraticus/pinflow/internal/funnel"
	"github.com/Veraticus/pinflow/internal/model"
)

// ErrQuit is returned when the subscriber leaves the funnel before confirming.
var ErrQuit = errors.New("funnel abandoned")

// Session is the funnel surface the prompter drives.
type Session interface {
	SUID() string
	State() funnel.State
	SubmitNumber(ctx context.Context, raw string) error
	SubmitPIN(ctx context.Context, raw string) error
	ResendPIN(ctx context.Context) error
}

// Prompter walks a subscriber through the funnel on a terminal.
type Prompter struct {
	writer io.Writer
	reader *NonBlockingReader
}

// NewPrompter creates a prompter reading from reader and writing to writer.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader: NewNonBlockingReader(reader),
		writer: writer,
	}
}

// Run prompts until the session is confirmed, the user quits, or ctx ends.
// Failures reported by the funnel are shown and the current step is retried.
func (p *Prompter) Run(ctx context.Context, s Session) error {
	p.printHeader(s.State())

	for {
		state := s.State()

		var err error
		switch state.Step {
		case model.StepConfirmed:
			p.printConfirmed(state)
			return nil
		case model.StepCollectNumber:
			err = p.collectNumber(ctx, s)
		case model.StepAwaitPin:
			err = p.awaitPIN(ctx, s)
		default:
			return fmt.Errorf("unexpected funnel step %d", state.Step)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrQuit
			}
			return err
		}
	}
}

func (p *Prompter) collectNumber(ctx context.Context, s Session) error {
	p.println(FormatStep(int(model.StepCollectNumber), int(model.StepConfirmed), model.StepCollectNumber.String()))
	p.print(FormatPrompt(PhoneIcon + " Mobile number (q to quit)"))

	input, err := p.reader.ReadLine(ctx)
	if err != nil {
		return err
	}
	switch strings.ToLower(input) {
	case "":
		return nil
	case "q", "quit":
		return ErrQuit
	}

	return p.report(s.SubmitNumber(ctx, input))
}

func (p *Prompter) awaitPIN(ctx context.Context, s Session) error {
	state := s.State()
	p.println(FormatStep(int(model.StepAwaitPin), int(model.StepConfirmed), model.StepAwaitPin.String()))
	if state.MSISDN != "" {
		p.println(SubtleStyle.Render("PIN sent to +" + state.MSISDN))
	}
	p.print(FormatPrompt(KeyIcon + " PIN (r to resend, q to quit)"))

	input, err := p.reader.ReadLine(ctx)
	if err != nil {
		return err
	}
	switch strings.ToLower(input) {
	case "":
		return nil
	case "q", "quit":
		return ErrQuit
	case "r", "resend":
		if err := p.report(s.ResendPIN(ctx)); err != nil {
			return err
		}
		if s.State().Step == model.StepAwaitPin {
			p.println(FormatInfo("A new PIN is on its way"))
		}
		return nil
	}

	return p.report(s.SubmitPIN(ctx, input))
}

// report prints funnel failures and returns only errors that should stop the prompter.
func (p *Prompter) report(err error) error {
	if err == nil {
		return nil
	}
	if f, ok := funnel.AsFailure(err); ok {
		p.println(FormatError(f.Message) + " " + SubtleStyle.Render("("+f.Code+")"))
		if f.Kind == funnel.KindSessionExpired {
			p.println(FormatInfo("Please enter your number again"))
		}
		return nil
	}
	if errors.Is(err, funnel.ErrBusy) {
		p.println(FormatWarning("Still working on the previous request"))
		return nil
	}
	return err
}

func (p *Prompter) printHeader(state funnel.State) {
	p.println(FormatTitle("Subscribe"))
	if state.Campaign != nil {
		p.println(fmt.Sprintf("%s %s", BoldStyle.Render("Campaign:"), state.Campaign.Name))
	}
	p.println(SubtleStyle.Render("Session " + state.SUID))
}

func (p *Prompter) printConfirmed(state funnel.State) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s +%s\n", BoldStyle.Render("Number:"), state.MSISDN)
	if state.Campaign != nil && state.Campaign.ServiceName != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Service:"), state.Campaign.ServiceName)
	}
	fmt.Fprintf(&b, "%s %s", BoldStyle.Render("Session:"), state.SUID)
	p.println(RenderBox(CheckIcon+" Subscription confirmed", b.String()))
}

func (p *Prompter) print(s string) {
	_, _ = fmt.Fprint(p.writer, s)
}

func (p *Prompter) println(s string) {
	_, _ = fmt.Fprintln(p.writer, s)
}
