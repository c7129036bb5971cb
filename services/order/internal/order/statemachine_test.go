package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{from: "pending", to: "preparing", want: true},
		{from: "preparing", to: "ready", want: true},
		{from: "ready", to: "served", want: true},
		{from: "served", to: "completed", want: true},
		{from: "pending", to: "cancelled", want: true},
		{from: "served", to: "cancelled", want: true},
		{from: "pending", to: "ready", want: false},
		{from: "ready", to: "preparing", want: false},
		{from: "served", to: "pending", want: false},
		{from: "completed", to: "cancelled", want: false},
		{from: "cancelled", to: "pending", want: false},
		{from: "completed", to: "served", want: false},
		{from: "unknown", to: "pending", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"To"+tt.to, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, status := range []string{"completed", "cancelled"} {
		for target := range AllowedTransitions {
			if CanTransition(status, target) {
				t.Errorf("CanTransition(%q, %q) = true, terminal statuses must have no exits", status, target)
			}
		}
	}
}

func TestMachineTransition(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		target     string
		wantErr    error
		wantStatus string
	}{
		{name: "pendingToPreparing", status: "pending", target: "preparing", wantStatus: "preparing"},
		{name: "readyToServed", status: "ready", target: "served", wantStatus: "served"},
		{name: "skippingAStep", status: "pending", target: "served", wantErr: ErrInvalidTransition, wantStatus: "pending"},
		{name: "goingBackwards", status: "ready", target: "preparing", wantErr: ErrInvalidTransition, wantStatus: "ready"},
		{name: "cancelIsRoutedElsewhere", status: "preparing", target: "cancelled", wantErr: ErrInvalidTransition, wantStatus: "preparing"},
		{name: "fromCompleted", status: "completed", target: "served", wantErr: ErrAlreadyTerminal, wantStatus: "completed"},
		{name: "fromCancelled", status: "cancelled", target: "preparing", wantErr: ErrAlreadyCancelled, wantStatus: "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tableID := uuid.New()
			o, _ := f.seed(tableID, tt.status, "", "pending")

			_, err := f.service.machine.Transition(context.Background(), o, tt.target, "staff")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Transition() error = %v, want %v", err, tt.wantErr)
				}
				if len(f.publisher.Transitions()) != 0 {
					t.Error("Transition() should not emit on failure")
				}
			} else if err != nil {
				t.Fatalf("Transition() unexpected error = %v", err)
			}

			if got := f.orders.Status(o.ID); got != tt.wantStatus {
				t.Errorf("stored status = %q, want %q", got, tt.wantStatus)
			}
		})
	}
}

func TestMachineTransitionEmitsAndProjects(t *testing.T) {
	f := newFixture()
	tableID := uuid.New()
	o, _ := f.seed(tableID, "pending", "", "pending")

	if _, err := f.service.machine.Transition(context.Background(), o, "preparing", "chef"); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	transitions := f.publisher.Transitions()
	if len(transitions) != 1 {
		t.Fatalf("emitted %d transitions, want 1", len(transitions))
	}
	got := transitions[0]
	if got.OrderID != o.ID.String() || got.FromStatus != "pending" || got.ToStatus != "preparing" || got.TableID != tableID.String() {
		t.Errorf("transition = %+v, want pending -> preparing for order on table", got)
	}
	if got.Actor != "chef" {
		t.Errorf("transition actor = %q, want chef", got.Actor)
	}
	if f.tables.Status(tableID) != "occupied" {
		t.Errorf("table status = %q, want occupied", f.tables.Status(tableID))
	}
}

func TestMachineAutoCompletion(t *testing.T) {
	tests := []struct {
		name          string
		ref           string
		paymentStatus string
		wantStatus    string
		wantEmitted   int
	}{
		{name: "paidCardCompletes", ref: "ch_1", paymentStatus: "completed", wantStatus: "completed", wantEmitted: 2},
		{name: "pendingCardStaysServed", ref: "ch_2", paymentStatus: "pending", wantStatus: "served", wantEmitted: 1},
		{name: "paidCashStaysServed", ref: "", paymentStatus: "completed", wantStatus: "served", wantEmitted: 1},
		{name: "pendingCashStaysServed", ref: "", paymentStatus: "pending", wantStatus: "served", wantEmitted: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o, _ := f.seed(uuid.New(), "ready", tt.ref, tt.paymentStatus)

			got, err := f.service.machine.Transition(context.Background(), o, "served", "waiter")
			if err != nil {
				t.Fatalf("Transition() error = %v", err)
			}

			if got.Status != tt.wantStatus {
				t.Errorf("returned status = %q, want %q", got.Status, tt.wantStatus)
			}
			if stored := f.orders.Status(o.ID); stored != tt.wantStatus {
				t.Errorf("stored status = %q, want %q", stored, tt.wantStatus)
			}

			transitions := f.publisher.Transitions()
			if len(transitions) != tt.wantEmitted {
				t.Fatalf("emitted %d transitions, want %d", len(transitions), tt.wantEmitted)
			}
			if tt.wantEmitted == 2 {
				last := transitions[1]
				if !last.Synthetic || last.Actor != SystemActor || last.FromStatus != "served" {
					t.Errorf("auto completion = %+v, want synthetic served -> completed by system", last)
				}
			}
		})
	}
}

func TestMachineConcurrentTransitions(t *testing.T) {
	f := newFixture()
	o, _ := f.seed(uuid.New(), "pending", "", "pending")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, _ := f.orders.Get(context.Background(), o.ID)
			_, err := f.service.machine.Transition(context.Background(), fresh, "preparing", "staff")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrInvalidTransition):
		default:
			t.Errorf("unexpected error = %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("%d writers succeeded, want exactly 1", succeeded)
	}
	if n := len(f.publisher.Transitions()); n != 1 {
		t.Errorf("emitted %d transitions, want 1", n)
	}
}

func TestMachineLostCompareAndSwap(t *testing.T) {
	f := newFixture()
	o, _ := f.seed(uuid.New(), "preparing", "", "pending")

	// Someone else moves it after we loaded our copy.
	f.orders.ForceStatus(o.ID, "cancelled")

	_, err := f.service.machine.Transition(context.Background(), o, "ready", "staff")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("Transition() error = %v, want ErrConcurrentModification", err)
	}
	if got := f.orders.Status(o.ID); got != "cancelled" {
		t.Errorf("stored status = %q, a lost write must not overwrite it", got)
	}
}
