package bot

import (
	"context"
	"strings"
)

// handleRegistration owns every event until the user completes registration.
// Role menus and wizards are unreachable before that.
func (d *Dispatcher) handleRegistration(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	switch s.state.Registration {
	case StepEnterPhone:
		if ev.ContactPhone != "" {
			s.user.Phone = ev.ContactPhone
			s.profileDirty = true
			s.state.Registration = StepEnterFullName
			return []Reply{textReply("Enter your full name:")}, nil
		}
		return []Reply{phonePrompt()}, nil

	case StepEnterFullName:
		name := strings.TrimSpace(ev.Text)
		if name == "" || name == cmdStart {
			return []Reply{textReply("Enter your full name:")}, nil
		}
		s.user.FullName = name
		s.profileDirty = true
		s.state.Registration = StepCompleted
		return []Reply{
			textReply("Registration complete, " + name + "!"),
			d.mainMenu(s.user),
		}, nil

	default:
		// Unknown step from an old deploy; restart registration cleanly.
		s.state.Registration = StepEnterPhone
		return []Reply{phonePrompt()}, nil
	}
}

func phonePrompt() Reply {
	return menuReply("To register, tap the button to share your phone number:", optSharePhone)
}
