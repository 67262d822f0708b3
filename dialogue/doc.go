// Package dialogue implements the turn-taking protocol that lets several
// autonomous agents converse inside a bounded session.
//
// A ConversationSession is created by the SessionManager with a fixed
// participant list and turn order, advanced one DialogueTurn at a time by
// the TurnScheduler, and optionally paused or terminated through the
// InterruptionHandler. Turn content generation is delegated to a
// TurnGenerator (an LLM-backed reasoning capability); persistence goes
// through the narrow Store interface so the package stays independent of
// any concrete backend.
package dialogue
