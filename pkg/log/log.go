package log

import "log/slog"

func WorkitemUID[T ~string](uid T) slog.Attr {
	return slog.String("workitem_uid", string(uid))
}

func TransactionUID[T ~string](uid T) slog.Attr {
	return slog.String("transaction_uid", string(uid))
}

func SubscriptionID[T ~string](id T) slog.Attr {
	return slog.String("subscription_id", string(id))
}

func AETitle[T ~string](ae T) slog.Attr {
	return slog.String("ae_title", string(ae))
}

func State[T ~string](state T) slog.Attr {
	return slog.String("state", string(state))
}

func Version(v int64) slog.Attr {
	return slog.Int64("version", v)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
