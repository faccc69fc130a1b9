package conversation

// InputAudioKey is the blob key of a submitted recording.
func InputAudioKey(userID, conversationID, requestID string) string {
	return "input/" + userID + "/" + conversationID + "/" + requestID + ".audio"
}

// OutputAudioKey is the blob key of a synthesized reply.
func OutputAudioKey(userID, conversationID, requestID string) string {
	return "output/" + userID + "/" + conversationID + "/" + requestID + ".audio"
}
