package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"course-bot/internal/processor"
	"course-bot/internal/service"
)

// ErrBadCallback is returned for button data the bot never produces
var ErrBadCallback = errors.New("malformed callback data")

// View is a screen that changes no purchase state
type View int

const (
	ViewNone View = iota
	ViewMenu
	ViewCatalog
	ViewCourse
	ViewLesson
	ViewMyPurchases
	ViewManual
	ViewHelp
	ViewRefund
)

// Manual transfer methods the admin reviews by hand
const (
	MethodPayPal   = "paypal"
	MethodWebMoney = "webmoney"
)

// Callback is decoded button data. Exactly one of Command and View is set.
type Callback struct {
	Command    service.Command
	View       View
	CourseID   string
	Lesson     int
	PurchaseID int64
	Method     string
}

// ParseCallback decodes button data of the form action[:arg...]
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, ":")
	action, args := parts[0], parts[1:]

	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%w: %q", ErrBadCallback, data)
		}
		return nil
	}

	switch action {
	case "menu", "catalog", "mine", "help", "refund":
		if err := need(0); err != nil {
			return Callback{}, err
		}
		return Callback{View: map[string]View{
			"menu":    ViewMenu,
			"catalog": ViewCatalog,
			"mine":    ViewMyPurchases,
			"help":    ViewHelp,
			"refund":  ViewRefund,
		}[action]}, nil

	case "course":
		if err := need(1); err != nil || args[0] == "" {
			return Callback{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
		}
		return Callback{View: ViewCourse, CourseID: args[0]}, nil

	case "lesson":
		if err := need(2); err != nil {
			return Callback{}, err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 || args[0] == "" {
			return Callback{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
		}
		return Callback{View: ViewLesson, CourseID: args[0], Lesson: n}, nil

	case "buy":
		if err := need(1); err != nil || args[0] == "" {
			return Callback{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
		}
		return Callback{Command: service.Buy{CourseID: args[0]}}, nil

	case "pay":
		if err := need(2); err != nil {
			return Callback{}, err
		}
		id, err := parseID(args[0], data)
		if err != nil {
			return Callback{}, err
		}
		name, ok := processor.ParseName(args[1])
		if !ok {
			return Callback{}, fmt.Errorf("%w: unknown processor in %q", ErrBadCallback, data)
		}
		return Callback{Command: service.PayWith{PurchaseID: id, Processor: name}}, nil

	case "manual", "claim":
		if err := need(2); err != nil {
			return Callback{}, err
		}
		id, err := parseID(args[0], data)
		if err != nil {
			return Callback{}, err
		}
		if args[1] != MethodPayPal && args[1] != MethodWebMoney {
			return Callback{}, fmt.Errorf("%w: unknown method in %q", ErrBadCallback, data)
		}
		if action == "manual" {
			return Callback{View: ViewManual, PurchaseID: id, Method: args[1]}, nil
		}
		return Callback{Command: service.ClaimManualPayment{PurchaseID: id, Method: args[1]}}, nil

	case "cancel":
		if len(args) == 0 {
			return Callback{Command: service.Cancel{}}, nil
		}
		if err := need(1); err != nil {
			return Callback{}, err
		}
		id, err := parseID(args[0], data)
		if err != nil {
			return Callback{}, err
		}
		return Callback{Command: service.Cancel{PurchaseID: id}}, nil

	case "approve", "reject", "check", "status":
		if err := need(1); err != nil {
			return Callback{}, err
		}
		id, err := parseID(args[0], data)
		if err != nil {
			return Callback{}, err
		}
		var cmd service.Command
		switch action {
		case "approve":
			cmd = service.AdminApprove{PurchaseID: id}
		case "reject":
			cmd = service.AdminReject{PurchaseID: id}
		case "check":
			cmd = service.CheckPayment{PurchaseID: id}
		default:
			cmd = service.CheckStatus{PurchaseID: id}
		}
		return Callback{Command: cmd}, nil
	}

	return Callback{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
}

func parseID(raw, data string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad id in %q", ErrBadCallback, data)
	}
	return id, nil
}

func courseData(courseID string) string        { return "course:" + courseID }
func lessonData(courseID string, n int) string { return fmt.Sprintf("lesson:%s:%d", courseID, n) }
func buyData(courseID string) string           { return "buy:" + courseID }
func payData(id int64, name processor.Name) string {
	return fmt.Sprintf("pay:%d:%s", id, name)
}
func manualData(id int64, method string) string { return fmt.Sprintf("manual:%d:%s", id, method) }
func claimData(id int64, method string) string  { return fmt.Sprintf("claim:%d:%s", id, method) }
func cancelData(id int64) string                { return fmt.Sprintf("cancel:%d", id) }
func approveData(id int64) string               { return fmt.Sprintf("approve:%d", id) }
func rejectData(id int64) string                { return fmt.Sprintf("reject:%d", id) }
func checkData(id int64) string                 { return fmt.Sprintf("check:%d", id) }
